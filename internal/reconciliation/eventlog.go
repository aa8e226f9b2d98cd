package reconciliation

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/pkg/db"
)

const (
	kindPosition = "position"
	kindDeal     = "deal"
)

type logEntry struct {
	ticket uint64
	origin events.Origin
	at     time.Time // first seen
	seen   time.Time // last seen live
}

// EventLog records which tickets and closing deals were already notified.
// An id is inserted at most once per session; entries leave only through
// Clear or window eviction.
type EventLog struct {
	mu        sync.RWMutex
	positions map[uint64]logEntry
	deals     map[string]logEntry

	window time.Duration // 0 keeps entries for the whole session
	db     *db.Database  // optional write-through store
}

// NewEventLog builds an empty log. database may be nil.
func NewEventLog(window time.Duration, database *db.Database) *EventLog {
	return &EventLog{
		positions: make(map[uint64]logEntry),
		deals:     make(map[string]logEntry),
		window:    window,
		db:        database,
	}
}

// DealID is the dedup key of a closing deal.
func DealID(positionID uint64) string {
	return "close_" + strconv.FormatUint(positionID, 10)
}

// HasPosition reports whether an opened notification was already sent for ticket.
func (l *EventLog) HasPosition(ticket uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[ticket]
	return ok
}

// HasDeal reports whether a closed notification was already sent for id.
func (l *EventLog) HasDeal(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.deals[id]
	return ok
}

// OriginOf returns the classification recorded when the ticket was first seen.
func (l *EventLog) OriginOf(ticket uint64) (events.Origin, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.positions[ticket]
	return e.origin, ok
}

// AddPosition inserts ticket and returns false when it was already present.
// Either way the ticket counts as seen live at at.
func (l *EventLog) AddPosition(ctx context.Context, ticket uint64, origin events.Origin, at time.Time) bool {
	l.mu.Lock()
	if e, ok := l.positions[ticket]; ok {
		if at.After(e.seen) {
			e.seen = at
			l.positions[ticket] = e
		}
		l.mu.Unlock()
		return false
	}
	l.positions[ticket] = logEntry{ticket: ticket, origin: origin, at: at, seen: at}
	l.mu.Unlock()

	l.persist(ctx, kindPosition, strconv.FormatUint(ticket, 10), ticket, origin, at)
	return true
}

// AddDeal inserts a closing deal id and returns false when it was already present.
func (l *EventLog) AddDeal(ctx context.Context, id string, ticket uint64, origin events.Origin, at time.Time) bool {
	l.mu.Lock()
	if _, ok := l.deals[id]; ok {
		l.mu.Unlock()
		return false
	}
	l.deals[id] = logEntry{ticket: ticket, origin: origin, at: at}
	l.mu.Unlock()

	l.persist(ctx, kindDeal, id, ticket, origin, at)
	return true
}

func (l *EventLog) persist(ctx context.Context, kind, id string, ticket uint64, origin events.Origin, at time.Time) {
	if l.db == nil {
		return
	}
	err := l.db.InsertProcessedEvent(ctx, db.ProcessedEvent{
		Kind:      kind,
		EventID:   id,
		Ticket:    ticket,
		Origin:    string(origin),
		CreatedAt: at,
	})
	if err != nil {
		log.Printf("reconciliation: persist %s %s: %v", kind, id, err)
	}
}

// Len returns the number of position and deal entries.
func (l *EventLog) Len() (positions, deals int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions), len(l.deals)
}

// Clear empties the log and its persisted copy.
func (l *EventLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.positions = make(map[uint64]logEntry)
	l.deals = make(map[string]logEntry)
	l.mu.Unlock()

	if l.db != nil {
		if err := l.db.ClearProcessedEvents(ctx); err != nil {
			return fmt.Errorf("clear processed events: %w", err)
		}
	}
	return nil
}

// Load restores entries persisted by a previous run.
func (l *EventLog) Load(ctx context.Context) (int, error) {
	if l.db == nil {
		return 0, nil
	}
	rows, err := l.db.ListProcessedEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("load processed events: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		e := logEntry{ticket: r.Ticket, origin: events.Origin(r.Origin), at: r.CreatedAt, seen: r.CreatedAt}
		switch r.Kind {
		case kindPosition:
			l.positions[r.Ticket] = e
		case kindDeal:
			l.deals[r.EventID] = e
		}
	}
	return len(rows), nil
}

// Evict drops entries that can no longer reappear. A position entry survives
// while live reports the ticket open and for a full window after it was last
// seen, so a ticket missing from a single poll keeps its entry. Deal entries
// survive while they are newer than the window or fall inside the current
// closed-deals query (since dayStart).
func (l *EventLog) Evict(ctx context.Context, now, dayStart time.Time, live func(uint64) bool) int {
	if l.window <= 0 {
		return 0
	}
	cutoff := now.Add(-l.window)
	if dayStart.Before(cutoff) {
		cutoff = dayStart
	}

	absent := now.Add(-l.window)

	var posIDs, dealIDs []string
	l.mu.Lock()
	for ticket, e := range l.positions {
		if live(ticket) {
			if now.After(e.seen) {
				e.seen = now
				l.positions[ticket] = e
			}
			continue
		}
		if e.seen.Before(absent) {
			delete(l.positions, ticket)
			posIDs = append(posIDs, strconv.FormatUint(ticket, 10))
		}
	}
	for id, e := range l.deals {
		if e.at.Before(cutoff) {
			delete(l.deals, id)
			dealIDs = append(dealIDs, id)
		}
	}
	l.mu.Unlock()

	if l.db != nil {
		if _, err := l.db.DeleteProcessedEvents(ctx, kindPosition, posIDs); err != nil {
			log.Printf("reconciliation: evict positions: %v", err)
		}
		if _, err := l.db.DeleteProcessedEvents(ctx, kindDeal, dealIDs); err != nil {
			log.Printf("reconciliation: evict deals: %v", err)
		}
	}
	return len(posIDs) + len(dealIDs)
}
