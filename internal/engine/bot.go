package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/indicators"
	"mt5-trader/internal/monitor"
	"mt5-trader/internal/notify"
	"mt5-trader/internal/order"
	"mt5-trader/internal/reconciliation"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/session"
	"mt5-trader/internal/strategy"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/db"
	"mt5-trader/pkg/i18n"
)

// ErrStartup is returned when the first terminal connection fails.
var ErrStartup = errors.New("startup aborted")

// Gateway is the part of the broker gateway the loop drives directly.
type Gateway interface {
	Connect(ctx context.Context) bool
	Disconnect(ctx context.Context)
	EnsureConnected(ctx context.Context) bool
	Stats() gateway.Stats
	AccountSnapshot(ctx context.Context) (*broker.AccountSnapshot, error)
	SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error)
	Bars(ctx context.Context, symbol string, tf broker.Timeframe, count int) ([]broker.Bar, error)
}

// Config holds the loop's gates and cadences.
type Config struct {
	Symbol         string
	Timeframe      broker.Timeframe
	DataBars       int
	ATRPeriod      int
	LotSize        float64 // 0 = size from risk
	MaxDailyTrades int
	MaxDailyLoss   float64 // account currency
	MaxSpread      int     // points
	Sessions       strategy.SessionFilter

	CheckInterval        time.Duration
	NotifyOnRestart      bool
	ForceCloseOnShutdown bool
}

// Bot is the trading loop. Step is not safe for concurrent use and runs on
// the scheduler's goroutine; the admin API only touches components with their
// own locks.
type Bot struct {
	cfg      Config
	gw       Gateway
	recon    *reconciliation.Service
	risk     *risk.Manager
	exec     *order.Executor
	session  *session.Store
	source   strategy.Source
	notifier notify.Notifier

	DB      *db.Database
	Bus     *events.Bus
	Prom    *monitor.Prom
	Metrics *monitor.SystemMetrics

	mu         sync.RWMutex
	floating   float64
	lastGate   string
	lastSignal time.Time
	startedAt  time.Time

	now func() time.Time
}

// NewBot wires the loop. notifier may be nil.
func NewBot(cfg Config, gw Gateway, recon *reconciliation.Service, riskMgr *risk.Manager, exec *order.Executor, store *session.Store, source strategy.Source, notifier notify.Notifier) *Bot {
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = broker.TimeframeM1
	}
	if cfg.DataBars <= 0 {
		cfg.DataBars = 100
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Bot{
		cfg:      cfg,
		gw:       gw,
		recon:    recon,
		risk:     riskMgr,
		exec:     exec,
		session:  store,
		source:   source,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for sessions and day rollover.
func (b *Bot) SetClock(now func() time.Time) {
	b.now = now
}

// Start connects, restores persisted state and announces the bot. A failed
// first connection aborts startup.
func (b *Bot) Start(ctx context.Context) error {
	if !b.gw.Connect(ctx) {
		return fmt.Errorf("%w: %s", ErrStartup, i18n.M().ConnectFailed)
	}
	b.startedAt = b.now()

	report, err := b.recon.Startup(ctx)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	// With NotifyOnRestart the startup poll replays today's closed deals,
	// which the session file already counted.
	if !b.cfg.NotifyOnRestart {
		b.applyReport(report)
	}
	b.observePositions()

	if err := b.risk.Restore(ctx); err != nil {
		log.Printf("engine: restore risk state: %v", err)
	}
	if err := b.risk.UpdateMetrics(ctx); err != nil && !Transient(err) {
		return fmt.Errorf("initial risk update: %w", err)
	}
	if _, err := b.session.RollDay(b.today()); err != nil {
		log.Printf("engine: %v", err)
	}

	started := events.BotStarted{
		Symbol:        b.cfg.Symbol,
		Mode:          string(b.risk.Mode()),
		OpenPositions: b.recon.Count(),
	}
	if acct, err := b.gw.AccountSnapshot(ctx); err == nil {
		started.Balance, started.Currency = acct.Balance, acct.Currency
	}
	b.Bus.Publish(events.EventBotStarted, started)
	log.Printf("✓ Bot is live: %s on %s (M%d), %d open positions", b.source.Name(), b.cfg.Symbol, b.cfg.Timeframe, started.OpenPositions)
	return nil
}

// Reconcile runs one reconciliation pass and applies it to the session.
// Both the scheduler and Step call it.
func (b *Bot) Reconcile(ctx context.Context) error {
	report, err := b.recon.Poll(ctx)
	if report != nil {
		b.applyReport(report)
	}
	b.observePositions()
	return err
}

// UpdateRisk refreshes the risk metrics.
func (b *Bot) UpdateRisk(ctx context.Context) error {
	return b.risk.UpdateMetrics(ctx)
}

// Snapshot writes one performance row.
func (b *Bot) Snapshot(ctx context.Context) error {
	if b.DB == nil {
		return nil
	}
	acct, err := b.gw.AccountSnapshot(ctx)
	if err != nil {
		return err
	}
	st := b.session.Snapshot()
	snap := db.PerformanceSnapshot{
		Equity:        acct.Equity,
		Balance:       acct.Balance,
		Margin:        acct.Margin,
		FreeMargin:    acct.MarginFree,
		DailyPnL:      st.DailyPnL,
		OpenPositions: b.recon.Count(),
		TotalTrades:   st.TotalTrades,
		Drawdown:      b.risk.State().Drawdown,
	}
	if b.Metrics != nil {
		snap.LatencyP95Ms = b.Metrics.OrderLatency.Stats().P95
	}
	if err := b.DB.InsertPerformanceSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("performance snapshot: %w", err)
	}
	return nil
}

// Schedule registers every cadence on s, in the order they run within a
// tick: reconcile, risk, the trading step, then performance snapshots. All of
// them share the scheduler's goroutine, so a risk update never lands in the
// middle of a step.
func (b *Bot) Schedule(s *Scheduler) {
	s.Every("reconcile", b.recon.Interval(), b.Reconcile)
	s.Every("risk", time.Second, b.UpdateRisk)
	s.Every("trade", b.cfg.CheckInterval, b.Step)
	s.Every("snapshot", time.Minute, b.Snapshot)
}

func (b *Bot) applyReport(r *reconciliation.Report) {
	for _, c := range r.Closed {
		if c.Origin != events.OriginBot {
			continue
		}
		if err := b.session.AddPnL(c.Profit); err != nil {
			log.Printf("engine: %v", err)
		}
	}
}

func (b *Bot) observePositions() {
	if b.Prom != nil {
		b.Prom.OpenPositions.Set(float64(b.recon.Count()))
	}
}

// Step runs one synchronous iteration of the trading loop. Transient data
// gaps end the iteration early without an error.
func (b *Bot) Step(ctx context.Context) error {
	if b.Metrics != nil {
		b.Metrics.IncrementCycles()
	}
	if !b.gw.EnsureConnected(ctx) {
		return gateway.ErrNotConnected
	}
	if _, err := b.session.RollDay(b.today()); err != nil {
		log.Printf("engine: %v", err)
	}

	acct, err := b.gw.AccountSnapshot(ctx)
	if err != nil {
		return skipTransient(err)
	}
	b.checkMargin(acct)

	if err := b.Reconcile(ctx); err != nil {
		return err
	}

	bars, err := b.gw.Bars(ctx, b.cfg.Symbol, b.cfg.Timeframe, b.cfg.DataBars)
	if err != nil {
		return skipTransient(err)
	}
	atr := b.atr(bars)
	b.monitorPositions(ctx, atr)

	if reason, ok := b.gate(ctx); !ok {
		b.setGate(reason)
		return nil
	}
	b.setGate("")

	start := b.now()
	sig, err := b.source.GenerateSignal(ctx, bars)
	if b.Metrics != nil {
		b.Metrics.SignalLatency.RecordDuration(b.now().Sub(start))
	}
	if err != nil {
		return fmt.Errorf("signal %s: %w", b.source.Name(), err)
	}
	if sig == nil {
		return nil
	}
	if b.Metrics != nil {
		b.Metrics.IncrementSignals()
	}
	b.mu.Lock()
	b.lastSignal = b.now()
	b.mu.Unlock()
	log.Printf("🎯 %s signal on %s @ %.5f (RSI %.1f, ATR %.5f) %s", sig.Side, b.cfg.Symbol, sig.Entry, sig.RSI, sig.ATR, sig.Note)

	return b.execute(ctx, sig, acct.Equity, atr)
}

// checkMargin publishes a margin status change. An account without exposure
// reports a zero margin level and is skipped.
func (b *Bot) checkMargin(acct *broker.AccountSnapshot) {
	if acct.Margin <= 0 {
		return
	}
	status := risk.ClassifyMargin(acct.MarginLevel)
	prev, changed, err := b.session.SetMarginStatus(string(status))
	if err != nil {
		log.Printf("engine: %v", err)
	}
	if !changed {
		return
	}
	log.Printf("engine: margin %s -> %s (%.1f%%)", prev, status, acct.MarginLevel)
	b.Bus.Publish(events.EventMarginStatus, events.MarginChange{
		Previous: prev,
		Current:  string(status),
		Level:    acct.MarginLevel,
	})
}

// monitorPositions sums floating P&L and ratchets trailing stops on the
// bot's own positions.
func (b *Bot) monitorPositions(ctx context.Context, atr float64) {
	var floating float64
	for _, p := range b.recon.Positions() {
		floating += p.Profit
		if origin, ok := b.recon.EventLog().OriginOf(p.Ticket); !ok || origin != events.OriginBot {
			continue
		}
		sl, move := b.risk.TrailingStop(p.Side, p.CurrentPrice, p.StopLoss, atr)
		if !move {
			continue
		}
		if res := b.exec.ModifyStops(ctx, p.Ticket, sl, p.TakeProfit); res.OK() {
			log.Printf("engine: trailing stop %d %.5f -> %.5f", p.Ticket, p.StopLoss, sl)
		}
	}
	b.mu.Lock()
	b.floating = floating
	b.mu.Unlock()
}

// gate checks, in order: trading session, risk gate, daily trade cap, daily
// loss cap and spread.
func (b *Bot) gate(ctx context.Context) (string, bool) {
	msgs := i18n.M()
	now := b.now()
	if !b.cfg.Sessions.Allowed(now) {
		return fmt.Sprintf("%s (%s)", msgs.GateSession, strategy.Current(now)), false
	}
	if ok, reason := b.risk.CanOpenPosition(b.cfg.Symbol); !ok {
		return reason, false
	}
	st := b.session.Snapshot()
	if b.cfg.MaxDailyTrades > 0 && st.DailyTrades >= b.cfg.MaxDailyTrades {
		return fmt.Sprintf(msgs.GateDailyTrades, st.DailyTrades, b.cfg.MaxDailyTrades), false
	}
	if b.cfg.MaxDailyLoss > 0 && st.DailyPnL <= -b.cfg.MaxDailyLoss {
		return fmt.Sprintf(msgs.GateSessionLoss, st.DailyPnL, b.cfg.MaxDailyLoss), false
	}
	spread := 999
	if info, err := b.gw.SymbolInfo(ctx, b.cfg.Symbol); err == nil {
		spread = info.Spread
	}
	if b.cfg.MaxSpread > 0 && spread > b.cfg.MaxSpread {
		return fmt.Sprintf(msgs.GateSpread, spread, b.cfg.MaxSpread), false
	}
	return "", true
}

func (b *Bot) setGate(reason string) {
	b.mu.Lock()
	changed := b.lastGate != reason
	b.lastGate = reason
	b.mu.Unlock()
	if changed && reason != "" {
		log.Printf("engine: entries blocked: %s", reason)
	}
}

func (b *Bot) execute(ctx context.Context, sig *strategy.Signal, equity, atr float64) error {
	if sig.ATR > 0 {
		atr = sig.ATR
	}
	sl, tp := sig.StopLoss, sig.TakeProfit
	if sl == 0 && atr > 0 {
		sl = b.risk.StopLoss(sig.Entry, sig.Side, atr)
	}
	if tp == 0 && atr > 0 {
		tp = b.risk.TakeProfit(sig.Entry, sig.Side, atr)
	}

	volume := b.cfg.LotSize
	if volume <= 0 {
		volume = b.risk.CalculatePositionSize(ctx, b.cfg.Symbol, sig.Entry, sl, equity)
	}
	if volume <= 0 {
		log.Printf("engine: signal skipped, position size is zero (entry %.5f, sl %.5f)", sig.Entry, sl)
		return nil
	}

	var res order.ExecutionResult
	submitted := b.risk.WhileEnabled(func() {
		res = b.exec.ExecuteMarketOrder(ctx, order.MarketOrder{
			Symbol:     b.cfg.Symbol,
			Side:       sig.Side,
			Volume:     volume,
			StopLoss:   sl,
			TakeProfit: tp,
		})
	})
	if !submitted {
		log.Printf("engine: %s signal dropped, trading was disabled before submission", sig.Side)
		return nil
	}
	if !res.OK() {
		log.Printf("❌ %s %.2f %s failed: %s", sig.Side, volume, b.cfg.Symbol, res.Message)
		return nil
	}
	log.Printf("✅ %s %.2f %s filled @ %.5f (ticket %d)", sig.Side, volume, b.cfg.Symbol, res.FillPrice, res.Ticket)
	if err := b.session.RecordTrade(); err != nil {
		log.Printf("engine: %v", err)
	}
	return nil
}

func (b *Bot) atr(bars []broker.Bar) float64 {
	n := len(bars)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, bar := range bars {
		highs[i], lows[i], closes[i] = bar.High, bar.Low, bar.Close
	}
	return indicators.ATR(highs, lows, closes, b.cfg.ATRPeriod)
}

// Shutdown optionally flattens the bot's symbol, reports the day and
// disconnects.
func (b *Bot) Shutdown(ctx context.Context) {
	if b.cfg.ForceCloseOnShutdown {
		n := b.exec.CloseAllPositions(ctx, b.cfg.Symbol)
		log.Printf("engine: closed %d positions on shutdown", n)
	}
	st := b.session.Snapshot()
	b.notifier.Send(ctx, fmt.Sprintf(i18n.M().BotStopped, st.DailyTrades, st.DailyPnL))
	b.gw.Disconnect(ctx)
	log.Printf("📊 Final statistics: %d trades today, daily P&L %.2f, %d trades all time", st.DailyTrades, st.DailyPnL, st.TotalTrades)
}

func (b *Bot) today() string {
	return b.now().UTC().Format("2006-01-02")
}

func skipTransient(err error) error {
	if errors.Is(err, gateway.ErrNoData) {
		return nil
	}
	return err
}

// Status implements Service.
func (b *Bot) Status(ctx context.Context) Status {
	b.mu.RLock()
	st := Status{
		Symbol:      b.cfg.Symbol,
		Strategy:    b.source.Name(),
		FloatingPnL: b.floating,
		LastGate:    b.lastGate,
		StartedAt:   b.startedAt,
	}
	if !b.lastSignal.IsZero() {
		t := b.lastSignal
		st.LastSignalAt = &t
	}
	b.mu.RUnlock()

	now := b.now()
	st.Session = string(strategy.Current(now))
	st.Connection = b.gw.Stats()
	st.Risk = b.risk.Summary()
	st.Counters = b.session.Snapshot()
	st.OpenPositions = b.recon.Count()
	if !st.StartedAt.IsZero() {
		st.Uptime = now.Sub(st.StartedAt).Truncate(time.Second).String()
	}
	return st
}

// Positions implements Service.
func (b *Bot) Positions() []broker.Position {
	return b.recon.Positions()
}

// Executions implements Service.
func (b *Bot) Executions(ctx context.Context, limit int) ([]db.Execution, error) {
	if b.DB == nil {
		return nil, nil
	}
	return b.DB.ListExecutions(ctx, limit)
}

// EnableTrading implements Service.
func (b *Bot) EnableTrading(ctx context.Context, actor string) {
	b.risk.EnableTrading(ctx, actor)
}

// DisableTrading implements Service.
func (b *Bot) DisableTrading(ctx context.Context, reason string) error {
	return b.risk.DisableTrading(ctx, reason)
}

// EmergencyStop implements Service.
func (b *Bot) EmergencyStop(ctx context.Context, reason string) int {
	return b.risk.EmergencyStop(ctx, reason)
}

var _ Service = (*Bot)(nil)
