package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/order"
	"mt5-trader/internal/reconciliation"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/session"
	"mt5-trader/internal/strategy"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/broker/paper"
)

const symbol = "XAUUSD"

// 10:00 UTC is inside the London session.
var london = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// Fast SMA(2) crosses above slow SMA(4) on the last bar with RSI(3) near 59.
var goldenCross = []float64{10, 12, 8, 8, 9, 10}

func barsFromCloses(closes []float64) []broker.Bar {
	out := make([]broker.Bar, len(closes))
	for i, c := range closes {
		out[i] = broker.Bar{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureNotifier) Send(_ context.Context, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	return true
}

type fixture struct {
	term  *paper.Terminal
	gw    *gateway.Gateway
	recon *reconciliation.Service
	risk  *risk.Manager
	exec  *order.Executor
	store *session.Store
	bus   *events.Bus
	sink  *captureNotifier
	bot   *Bot
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	clock := func() time.Time { return london }

	term := paper.New(paper.Config{InitialBalance: 10000})
	term.SetClock(clock)
	term.SetSymbol(broker.SymbolInfo{Name: symbol, Point: 0.01, Digits: 2, ContractSize: 100, VolumeMin: 0.01, VolumeMax: 10, VolumeStep: 0.01})
	term.SetTick(symbol, 10.00, 10.02)
	term.SetBars(symbol, barsFromCloses(goldenCross))

	bus := events.NewBus()
	gw := gateway.New(term, gateway.Config{RequestsPerSecond: 1000, Burst: 1000}, bus)

	recon := reconciliation.NewService(gw, reconciliation.Config{Symbol: symbol, Magic: 2300, Signature: "AutoBot"}, nil)
	recon.Bus = bus
	recon.SetClock(clock)

	exec := order.NewExecutor(gw, order.Config{Magic: 2300, Deviation: 20, Signature: "AutoBot"})
	exec.Bus = bus

	limits, err := risk.DefaultProfiles().Select(risk.ModeModerate)
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	rm := risk.NewManager(gw, exec, recon, risk.ModeModerate, limits)
	rm.Bus = bus
	rm.SetClock(clock)

	store, err := session.Open(filepath.Join(t.TempDir(), "bot_state.json"))
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	cfg := Config{
		Symbol:         symbol,
		DataBars:       100,
		ATRPeriod:      3,
		LotSize:        0.01,
		MaxDailyTrades: 15,
		MaxDailyLoss:   50,
		MaxSpread:      30,
		Sessions:       strategy.SessionFilter{London: true, NY: true},
		CheckInterval:  time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	scfg := strategy.DefaultConfig()
	scfg.FastPeriod, scfg.SlowPeriod, scfg.RSIPeriod, scfg.ATRPeriod = 2, 4, 3, 3

	sink := &captureNotifier{}
	bot := NewBot(cfg, gw, recon, rm, exec, store, strategy.NewCrossoverSource(scfg), sink)
	bot.Bus = bus
	bot.SetClock(clock)

	return &fixture{term: term, gw: gw, recon: recon, risk: rm, exec: exec, store: store, bus: bus, sink: sink, bot: bot}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (f *fixture) step(t *testing.T) {
	t.Helper()
	if err := f.bot.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func drain(ch <-chan any) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func TestSchedulerRunsJobsInOrderAtTheirCadence(t *testing.T) {
	now := london
	s := NewScheduler(0, time.Second)
	s.SetClock(func() time.Time { return now })

	var calls []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			calls = append(calls, name)
			return nil
		}
	}
	s.Every("reconcile", 100*time.Millisecond, record("reconcile"))
	s.Every("risk", time.Second, record("risk"))

	steps := []struct {
		advance time.Duration
		want    string
	}{
		{0, "reconcile,risk"},
		{50 * time.Millisecond, ""},
		{50 * time.Millisecond, "reconcile"},
		{900 * time.Millisecond, "reconcile,risk"},
	}
	for i, st := range steps {
		now = now.Add(st.advance)
		calls = nil
		s.RunDue(context.Background())
		if got := strings.Join(calls, ","); got != st.want {
			t.Fatalf("step %d ran %q, want %q", i, got, st.want)
		}
	}
}

func TestSchedulerCooldownAfterUnexpectedError(t *testing.T) {
	now := london
	s := NewScheduler(0, 10*time.Second)
	s.SetClock(func() time.Time { return now })

	fail := true
	runs := 0
	s.Every("risk", time.Second, func(context.Context) error {
		runs++
		if fail {
			panic("boom")
		}
		return nil
	})

	s.RunDue(context.Background())
	fail = false
	now = now.Add(5 * time.Second)
	if ran := s.RunDue(context.Background()); ran != nil {
		t.Fatalf("ran %v during cooldown", ran)
	}
	now = now.Add(5 * time.Second)
	s.RunDue(context.Background())
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestSchedulerTransientErrorsDoNotPause(t *testing.T) {
	now := london
	s := NewScheduler(0, time.Minute)
	s.SetClock(func() time.Time { return now })
	s.Every("reconcile", 100*time.Millisecond, func(context.Context) error {
		return gateway.ErrNotConnected
	})
	s.RunDue(context.Background())
	now = now.Add(100 * time.Millisecond)
	if ran := s.RunDue(context.Background()); len(ran) != 1 {
		t.Fatalf("transient error paused the scheduler: %v", ran)
	}
}

func TestStartAbortsWhenTerminalUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.term.FailInitialize(true)
	err := f.bot.Start(context.Background())
	if !errors.Is(err, ErrStartup) {
		t.Fatalf("Start = %v, want ErrStartup", err)
	}
}

func TestStartAnnouncesBot(t *testing.T) {
	f := newFixture(t, nil)
	started, unsub := f.bus.Subscribe(events.EventBotStarted, 1)
	defer unsub()
	f.start(t)

	select {
	case p := <-started:
		ev := p.(events.BotStarted)
		if ev.Symbol != symbol || ev.Mode != "moderate" || ev.Balance != 10000 {
			t.Fatalf("BotStarted = %+v", ev)
		}
	default:
		t.Fatalf("no BotStarted event")
	}
}

func TestStepExecutesSignal(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.step(t)

	positions, _ := f.gw.Positions(context.Background(), symbol)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	p := positions[0]
	if p.Side != broker.SideBuy || p.Volume != 0.01 || p.Magic != 2300 {
		t.Fatalf("position = %+v", p)
	}
	// ATR(3) is 2 on these bars: SL 10-2.5*2, TP 10+4*2
	if p.StopLoss != 5 || p.TakeProfit != 18 {
		t.Fatalf("levels = %.2f/%.2f", p.StopLoss, p.TakeProfit)
	}
	if st := f.store.Snapshot(); st.DailyTrades != 1 || st.TotalTrades != 1 {
		t.Fatalf("session = %+v", st)
	}
}

func TestStepRiskBasedSizing(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.LotSize = 0 })
	f.start(t)
	f.step(t)

	positions, _ := f.gw.Positions(context.Background(), symbol)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	// 1% of 10000 over a 5.0 stop on a 100 contract: 100/(100*5) = 0.2 lots
	if positions[0].Volume != 0.2 {
		t.Fatalf("volume = %v, want 0.2", positions[0].Volume)
	}
}

func TestGatesBlockEntries(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture)
		want  string
	}{
		{"outside session", func(f *fixture) {
			f.bot.SetClock(func() time.Time { return london.Add(-7 * time.Hour) })
		}, "outside trading session"},
		{"risk gate", func(f *fixture) {
			f.risk.DisableTrading(context.Background(), "maintenance")
		}, "trading disabled: maintenance"},
		{"daily trades", func(f *fixture) {
			f.store.Update(func(s *session.State) { s.DailyTrades = 15 })
		}, "max daily trades reached (15/15)"},
		{"daily loss", func(f *fixture) {
			f.store.Update(func(s *session.State) { s.DailyPnL = -50 })
		}, "max daily loss reached"},
		{"spread", func(f *fixture) {
			f.term.SetTick(symbol, 10.00, 10.50)
		}, "spread too wide (50 > 30 points)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.start(t)
			tt.setup(f)
			f.step(t)

			if n := f.term.Sends(); n != 0 {
				t.Fatalf("orders sent = %d", n)
			}
			if got := f.bot.Status(context.Background()).LastGate; !strings.Contains(got, tt.want) {
				t.Fatalf("gate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBotClosedDealsFeedSessionPnL(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Sessions = strategy.SessionFilter{} })
	f.start(t)
	ctx := context.Background()

	res := f.exec.ExecuteMarketOrder(ctx, order.MarketOrder{Symbol: symbol, Side: broker.SideBuy, Volume: 0.01})
	if !res.OK() {
		t.Fatalf("open: %+v", res)
	}
	manual := f.term.OpenExternal(symbol, broker.SideBuy, 0.01, 0, "")
	if err := f.bot.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	f.term.SetTick(symbol, 11.00, 11.02)
	if res := f.exec.ClosePosition(ctx, res.Ticket, 0); !res.OK() {
		t.Fatalf("close: %+v", res)
	}
	f.term.CloseExternal(manual)
	f.step(t)

	// only the bot's deal counts: (11.00-10.02)*0.01*100
	if got := f.store.Snapshot().DailyPnL; math.Abs(got-0.98) > 1e-9 {
		t.Fatalf("session pnl = %v, want 0.98", got)
	}
	f.step(t)
	if got := f.store.Snapshot().DailyPnL; math.Abs(got-0.98) > 1e-9 {
		t.Fatalf("pnl counted twice: %v", got)
	}
}

func TestMarginChangePublishedOnce(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Sessions = strategy.SessionFilter{} })
	f.start(t)
	changes, unsub := f.bus.Subscribe(events.EventMarginStatus, 8)
	defer unsub()

	f.step(t)
	if n := drain(changes); n != 0 {
		t.Fatalf("margin event without exposure: %d", n)
	}

	f.term.OpenExternal(symbol, broker.SideBuy, 0.01, 0, "")
	f.step(t)
	f.step(t)
	if n := drain(changes); n != 1 {
		t.Fatalf("margin events = %d, want 1", n)
	}
	if got := f.store.Snapshot().MarginStatus; got != string(risk.MarginSafe) {
		t.Fatalf("stored margin status = %q", got)
	}
}

func TestTrailingStopOnlyMovesBotPositions(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Sessions = strategy.SessionFilter{} })
	f.start(t)
	ctx := context.Background()

	res := f.exec.ExecuteMarketOrder(ctx, order.MarketOrder{Symbol: symbol, Side: broker.SideBuy, Volume: 0.01, StopLoss: 5})
	if !res.OK() {
		t.Fatalf("open: %+v", res)
	}
	manual := f.term.OpenExternal(symbol, broker.SideBuy, 0.01, 0, "")
	f.term.SetTick(symbol, 20.00, 20.02)
	f.bot.Reconcile(ctx)
	f.bot.monitorPositions(ctx, 2)

	bot, _ := f.gw.PositionByTicket(ctx, res.Ticket)
	// moderate trails at 2 ATR
	if bot.StopLoss != 16 {
		t.Fatalf("bot stop = %v, want 16", bot.StopLoss)
	}
	other, _ := f.gw.PositionByTicket(ctx, manual)
	if other.StopLoss != 0 {
		t.Fatalf("manual position was modified: %+v", other)
	}
	if fl := f.bot.Status(ctx).FloatingPnL; fl <= 0 {
		t.Fatalf("floating pnl = %v", fl)
	}
}

func TestShutdownForceClosesAndReports(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ForceCloseOnShutdown = true })
	f.start(t)
	f.step(t)

	f.bot.Shutdown(context.Background())

	positions := f.recon.Positions()
	if f.gw.IsConnected() {
		t.Fatalf("still connected after shutdown")
	}
	f.gw.Connect(context.Background())
	open, _ := f.gw.Positions(context.Background(), symbol)
	if len(open) != 0 {
		t.Fatalf("positions left open: %d (live set %d)", len(open), len(positions))
	}
	if len(f.sink.msgs) != 1 || !strings.Contains(f.sink.msgs[0], "Bot stopped") {
		t.Fatalf("notifications = %q", f.sink.msgs)
	}
}

type panicSource struct{}

func (panicSource) Name() string { return "panic" }

func (panicSource) GenerateSignal(context.Context, []broker.Bar) (*strategy.Signal, error) {
	panic("indicator bug")
}

func TestScheduledStepRecoversPanics(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.bot.source = panicSource{}

	s := NewScheduler(0, time.Minute)
	s.SetClock(func() time.Time { return london })
	f.bot.Schedule(s)
	ran := s.RunDue(context.Background())
	if got := strings.Join(ran, ","); got != "reconcile,risk,trade" {
		t.Fatalf("ran %q, want the pass to stop at the panicking step", got)
	}
	if ran := s.RunDue(context.Background()); ran != nil {
		t.Fatalf("ran %v during cooldown", ran)
	}
}

func TestScheduleRunsStepWithTheOtherCadences(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	s := NewScheduler(0, time.Minute)
	s.SetClock(func() time.Time { return london })
	f.bot.Schedule(s)
	ran := s.RunDue(context.Background())
	if got := strings.Join(ran, ","); got != "reconcile,risk,trade,snapshot" {
		t.Fatalf("ran %q", got)
	}
	if open, _ := f.gw.Positions(context.Background(), symbol); len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
}

// gatedSource holds its signal until released.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func (gatedSource) Name() string { return "gated" }

func (g gatedSource) GenerateSignal(context.Context, []broker.Bar) (*strategy.Signal, error) {
	close(g.entered)
	<-g.release
	return &strategy.Signal{Side: broker.SideBuy, Entry: 10.02, ATR: 2}, nil
}

func TestEmergencyStopDuringSignalBlocksEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	src := gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	f.bot.source = src

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- f.bot.Step(ctx) }()

	<-src.entered
	if n := f.bot.EmergencyStop(ctx, "operator"); n != 0 {
		t.Fatalf("closed %d positions, want 0", n)
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("Step: %v", err)
	}

	if n := f.term.Sends(); n != 0 {
		t.Fatalf("orders sent after emergency stop = %d", n)
	}
	open, _ := f.gw.Positions(ctx, symbol)
	if len(open) != 0 {
		t.Fatalf("positions open after emergency stop: %d", len(open))
	}
	if f.risk.TradingEnabled() {
		t.Fatalf("trading re-enabled")
	}
	if st := f.store.Snapshot(); st.DailyTrades != 0 {
		t.Fatalf("trade recorded after emergency stop: %+v", st)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.step(t)

	st := f.bot.Status(context.Background())
	if st.Symbol != symbol || st.Session != "LONDON" || st.Connection.State != "connected" {
		t.Fatalf("status = %+v", st)
	}
	if st.LastSignalAt == nil || st.Counters.DailyTrades != 1 || !st.Risk.TradingEnabled {
		t.Fatalf("status = %+v", st)
	}
}
