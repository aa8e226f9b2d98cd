package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/monitor"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/db"
)

// Gateway is the read side of the broker gateway used for reconciliation.
type Gateway interface {
	Positions(ctx context.Context, symbol string) ([]broker.Position, error)
	ClosedDeals(ctx context.Context, from, to time.Time) ([]broker.ClosedDeal, error)
	AccountSnapshot(ctx context.Context) (*broker.AccountSnapshot, error)
}

// Config identifies the tracked symbol and this bot's own orders.
type Config struct {
	Symbol          string
	Magic           int64
	Signature       string
	NotifyOnRestart bool
	Interval        time.Duration
}

// Report summarizes one poll.
type Report struct {
	Timestamp            time.Time
	Opened               []events.PositionOpened
	Closed               []events.PositionClosed
	Removed              []uint64
	Live                 int
	PositionsUnavailable bool
	DealsUnavailable     bool
}

// Service mirrors broker positions locally and turns snapshot diffs into
// exactly one opened and one closed notification per real event.
// It is the only writer of the live set and the event log.
type Service struct {
	gw  Gateway
	cfg Config
	log *EventLog

	DB      *db.Database
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics

	mu   sync.RWMutex
	live map[uint64]broker.Position

	pollMu sync.Mutex
	now    func() time.Time
}

// NewService builds a reconciler over gw. eventLog may be shared with a
// persistent store (see NewEventLog).
func NewService(gw Gateway, cfg Config, eventLog *EventLog) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if eventLog == nil {
		eventLog = NewEventLog(0, nil)
	}
	return &Service{
		gw:   gw,
		cfg:  cfg,
		log:  eventLog,
		live: make(map[uint64]broker.Position),
		now:  time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	s.now = now
}

// EventLog exposes the processed-event log for inspection.
func (s *Service) EventLog() *EventLog {
	return s.log
}

// Classify tags a position or deal by who placed it.
func Classify(magic int64, comment string, botMagic int64, signature string) events.Origin {
	switch {
	case magic == botMagic || (signature != "" && comment == signature):
		return events.OriginBot
	case magic != 0:
		return events.OriginOther
	default:
		return events.OriginManual
	}
}

// Startup prepares the event log for a new session. With NotifyOnRestart the
// log is cleared and existing positions are announced again by an immediate
// poll; otherwise the persisted log is restored first so nothing repeats.
func (s *Service) Startup(ctx context.Context) (*Report, error) {
	if s.cfg.NotifyOnRestart {
		if err := s.log.Clear(ctx); err != nil {
			log.Printf("reconciliation: %v", err)
		}
	} else {
		n, err := s.log.Load(ctx)
		if err != nil {
			return nil, err
		}
		log.Printf("reconciliation: restored %d processed events", n)
	}
	return s.Poll(ctx)
}

// Interval is the configured polling cadence.
func (s *Service) Interval() time.Duration { return s.cfg.Interval }

// Poll runs one reconciliation pass. No-data reads skip the affected half of
// the pass and are reported, not returned as errors.
func (s *Service) Poll(ctx context.Context) (*Report, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.Metrics != nil {
		defer monitor.NewTimer(s.Metrics.ReconcileLatency).Stop()
	}

	now := s.now()
	report := &Report{Timestamp: now}

	var acct *broker.AccountSnapshot
	account := func() *broker.AccountSnapshot {
		if acct == nil {
			acct, _ = s.gw.AccountSnapshot(ctx)
		}
		return acct
	}

	if err := s.reconcilePositions(ctx, now, report, account); err != nil {
		return report, err
	}
	if err := s.reconcileDeals(ctx, now, report); err != nil {
		return report, err
	}

	s.log.Evict(ctx, now, dayStart(now), s.isLive)
	report.Live = s.Count()
	return report, nil
}

func (s *Service) reconcilePositions(ctx context.Context, now time.Time, report *Report, account func() *broker.AccountSnapshot) error {
	positions, err := s.gw.Positions(ctx, s.cfg.Symbol)
	if err != nil {
		if isNoData(err) {
			report.PositionsUnavailable = true
			return nil
		}
		return fmt.Errorf("positions: %w", err)
	}

	seen := make(map[uint64]struct{}, len(positions))
	for _, p := range positions {
		seen[p.Ticket] = struct{}{}

		s.mu.Lock()
		s.live[p.Ticket] = p
		s.mu.Unlock()

		origin := Classify(p.Magic, p.Comment, s.cfg.Magic, s.cfg.Signature)
		if !s.log.AddPosition(ctx, p.Ticket, origin, now) {
			continue
		}
		ev := events.PositionOpened{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			Volume:     p.Volume,
			EntryPrice: p.EntryPrice,
			Magic:      p.Magic,
			Origin:     origin,
			OpenedAt:   p.OpenTime,
		}
		if a := account(); a != nil {
			ev.Balance, ev.Equity = a.Balance, a.Equity
			ev.MarginLevel, ev.MarginFree = a.MarginLevel, a.MarginFree
		}
		report.Opened = append(report.Opened, ev)
		log.Printf("reconciliation: new %s position %d %s %.2f @ %.5f", origin, p.Ticket, p.Side, p.Volume, p.EntryPrice)
		s.Bus.Publish(events.EventPositionOpened, ev)
	}

	s.mu.Lock()
	for ticket := range s.live {
		if _, ok := seen[ticket]; !ok {
			delete(s.live, ticket)
			report.Removed = append(report.Removed, ticket)
		}
	}
	s.mu.Unlock()
	sort.Slice(report.Removed, func(i, j int) bool { return report.Removed[i] < report.Removed[j] })
	return nil
}

func (s *Service) reconcileDeals(ctx context.Context, now time.Time, report *Report) error {
	deals, err := s.gw.ClosedDeals(ctx, dayStart(now), now)
	if err != nil {
		if isNoData(err) {
			report.DealsUnavailable = true
			return nil
		}
		return fmt.Errorf("closed deals: %w", err)
	}

	for _, d := range deals {
		if d.Symbol != s.cfg.Symbol || d.EntryType != broker.DealEntryOut {
			continue
		}
		id := DealID(d.PositionID)
		origin := Classify(d.Magic, "", s.cfg.Magic, "")
		if !s.log.AddDeal(ctx, id, d.PositionID, origin, d.Time) {
			continue
		}
		ev := events.PositionClosed{
			DealID:     id,
			Ticket:     d.PositionID,
			Symbol:     d.Symbol,
			Side:       string(d.Side.Opposite()),
			Volume:     d.Volume,
			EntryPrice: d.EntryPrice,
			ExitPrice:  d.ExitPrice,
			Profit:     d.Profit,
			Magic:      d.Magic,
			Origin:     origin,
			ClosedAt:   d.Time,
		}
		report.Closed = append(report.Closed, ev)
		log.Printf("reconciliation: %s position %d closed, P&L %.2f", origin, d.PositionID, d.Profit)
		s.journal(ctx, ev)
		s.Bus.Publish(events.EventPositionClosed, ev)
	}
	return nil
}

func (s *Service) journal(ctx context.Context, ev events.PositionClosed) {
	if s.DB == nil {
		return
	}
	err := s.DB.InsertClosedDeal(ctx, db.ClosedDeal{
		PositionID: ev.Ticket,
		Symbol:     ev.Symbol,
		Side:       ev.Side,
		Volume:     ev.Volume,
		EntryPrice: ev.EntryPrice,
		ExitPrice:  ev.ExitPrice,
		Profit:     ev.Profit,
		Magic:      ev.Magic,
		Origin:     string(ev.Origin),
		ClosedAt:   ev.ClosedAt,
	})
	if err != nil {
		log.Printf("reconciliation: journal closed deal %s: %v", ev.DealID, err)
	}
}

// Positions returns a copy of the live set ordered by ticket.
func (s *Service) Positions() []broker.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]broker.Position, 0, len(s.live))
	for _, p := range s.live {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Count returns the size of the live set.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// Get returns a copy of one live position.
func (s *Service) Get(ticket uint64) (broker.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.live[ticket]
	return p, ok
}

func (s *Service) isLive(ticket uint64) bool {
	_, ok := s.Get(ticket)
	return ok
}

// isNoData reports reads that should skip this half of the pass.
func isNoData(err error) bool {
	return errors.Is(err, gateway.ErrNoData) || errors.Is(err, gateway.ErrNotConnected)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
