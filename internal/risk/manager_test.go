package risk

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/db"
)

type fakeAccount struct {
	mu     sync.Mutex
	equity float64
	info   *broker.SymbolInfo
	err    error
}

func (f *fakeAccount) setEquity(eq float64) {
	f.mu.Lock()
	f.equity = eq
	f.mu.Unlock()
}

func (f *fakeAccount) AccountSnapshot(context.Context) (*broker.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &broker.AccountSnapshot{Balance: 10000, Equity: f.equity, MarginLevel: 800}, nil
}

func (f *fakeAccount) SymbolInfo(context.Context, string) (*broker.SymbolInfo, error) {
	if f.info == nil {
		return nil, errors.New("no data")
	}
	return f.info, nil
}

type countingCloser struct {
	calls int
}

func (c *countingCloser) CloseAllPositions(context.Context, string) int {
	c.calls++
	return 2
}

type fixedCount int

func (n fixedCount) Count() int { return int(n) }

var day1 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, mode Mode, equity float64, open int) (*Manager, *fakeAccount, *countingCloser) {
	t.Helper()
	limits, err := DefaultProfiles().Select(mode)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	acct := &fakeAccount{
		equity: equity,
		info:   &broker.SymbolInfo{Name: "XAUUSD", ContractSize: 100, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	}
	closer := &countingCloser{}
	m := NewManager(acct, closer, fixedCount(open), mode, limits)
	m.SetClock(func() time.Time { return day1 })
	return m, acct, closer
}

func TestCalculatePositionSize(t *testing.T) {
	m, acct, _ := newTestManager(t, ModeModerate, 10000, 0)
	ctx := context.Background()

	if got := m.CalculatePositionSize(ctx, "XAUUSD", 2000, 1990, 10000); got != 0.10 {
		t.Fatalf("size = %v, want 0.10", got)
	}
	if got := m.CalculatePositionSize(ctx, "XAUUSD", 2000, 2000, 10000); got != 0 {
		t.Fatalf("zero stop distance must refuse, got %v", got)
	}

	acct.info = nil
	if got := m.CalculatePositionSize(ctx, "XAUUSD", 2000, 1990, 10000); got != 0 {
		t.Fatalf("missing symbol info must refuse, got %v", got)
	}
}

func TestRoundVolume(t *testing.T) {
	cases := []struct {
		name                 string
		size, step, min, max float64
		want                 float64
	}{
		{"snaps to step", 0.1234, 0.01, 0.01, 10, 0.12},
		{"clamps to min", 0.001, 0.01, 0.01, 10, 0.01},
		{"clamps to max", 25, 0.01, 0.01, 10, 10},
		{"coarse step", 0.37, 0.1, 0.1, 10, 0.4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RoundVolume(tc.size, tc.step, tc.min, tc.max); math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("RoundVolume = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDailyLossTripsEmergencyStopOnce(t *testing.T) {
	m, acct, closer := newTestManager(t, ModeModerate, 10000, 0)
	bus := events.NewBus()
	stops, unsub := bus.Subscribe(events.EventEmergencyStop, 4)
	defer unsub()
	m.Bus = bus
	ctx := context.Background()

	if err := m.UpdateMetrics(ctx); err != nil {
		t.Fatalf("UpdateMetrics: %v", err)
	}
	if !m.TradingEnabled() || closer.calls != 0 {
		t.Fatalf("no breach expected yet")
	}

	acct.setEquity(9400)
	for i := 0; i < 5; i++ {
		if err := m.UpdateMetrics(ctx); err != nil {
			t.Fatalf("UpdateMetrics: %v", err)
		}
	}
	if m.TradingEnabled() {
		t.Fatalf("latch should be closed")
	}
	if closer.calls != 1 {
		t.Fatalf("close-all called %d times, want 1", closer.calls)
	}
	if len(stops) != 1 {
		t.Fatalf("published %d emergency stops", len(stops))
	}
	ev := (<-stops).(events.EmergencyStop)
	if ev.Closed != 2 || !strings.Contains(ev.Reason, "daily loss") {
		t.Fatalf("event = %+v", ev)
	}

	ok, reason := m.CanOpenPosition("XAUUSD")
	if ok || !strings.Contains(reason, "daily loss") {
		t.Fatalf("gate = %v %q", ok, reason)
	}
}

func TestDrawdownTripsEmergencyStop(t *testing.T) {
	m, acct, closer := newTestManager(t, ModeConservative, 10000, 0)
	ctx := context.Background()
	m.UpdateMetrics(ctx)

	acct.setEquity(10600)
	m.UpdateMetrics(ctx)

	// next UTC day: the daily baseline resets but the peak does not
	m.SetClock(func() time.Time { return day1.Add(24 * time.Hour) })
	acct.setEquity(10000)
	m.UpdateMetrics(ctx)

	st := m.State()
	if st.DailyStartEquity != 10000 || st.DailyPnL != 0 {
		t.Fatalf("rollover not applied: %+v", st)
	}
	want := (10600.0 - 10000.0) / 10600.0 * 100
	if math.Abs(st.MaxDrawdown-want) > 1e-9 {
		t.Fatalf("max drawdown = %v, want %v", st.MaxDrawdown, want)
	}
	if closer.calls != 1 || m.TradingEnabled() {
		t.Fatalf("5.66%% drawdown should trip the 5%% limit once, calls=%d", closer.calls)
	}
}

func TestCanOpenPosition(t *testing.T) {
	cases := []struct {
		name   string
		open   int
		equity float64
		ok     bool
		reason string
	}{
		{"ok", 0, 10000, true, "OK"},
		{"positions full", 3, 10000, false, "max open positions reached (3/3)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _ := newTestManager(t, ModeModerate, tc.equity, tc.open)
			m.UpdateMetrics(context.Background())
			ok, reason := m.CanOpenPosition("XAUUSD")
			if ok != tc.ok || reason != tc.reason {
				t.Fatalf("CanOpenPosition = %v %q, want %v %q", ok, reason, tc.ok, tc.reason)
			}
		})
	}
}

func TestAdminToggle(t *testing.T) {
	m, acct, closer := newTestManager(t, ModeModerate, 10000, 0)
	bus := events.NewBus()
	toggles, unsub := bus.Subscribe(events.EventTradingEnabled, 2)
	defer unsub()
	m.Bus = bus
	ctx := context.Background()

	if err := m.DisableTrading(ctx, "maintenance"); err != nil {
		t.Fatalf("DisableTrading: %v", err)
	}
	if err := m.DisableTrading(ctx, "again"); !errors.Is(err, ErrTradingDisabled) {
		t.Fatalf("second disable = %v", err)
	}
	if ok, reason := m.CanOpenPosition("XAUUSD"); ok || reason != "trading disabled: maintenance" {
		t.Fatalf("gate = %v %q", ok, reason)
	}
	if closer.calls != 0 {
		t.Fatalf("disable must not close positions")
	}

	// a deep drawdown while disabled does not fire the stop
	m.UpdateMetrics(ctx)
	acct.setEquity(8000)
	m.UpdateMetrics(ctx)
	if closer.calls != 0 {
		t.Fatalf("breach while disabled must not close, calls=%d", closer.calls)
	}

	m.EnableTrading(ctx, "admin")
	if !m.TradingEnabled() || len(toggles) != 1 {
		t.Fatalf("enable not applied")
	}
	if st := m.State(); st.PeakEquity != 8000 || st.MaxDrawdown != 0 {
		t.Fatalf("drawdown baseline not restarted: %+v", st)
	}
}

func TestStopsAndTrailing(t *testing.T) {
	m, _, _ := newTestManager(t, ModeModerate, 10000, 0)

	if sl := m.StopLoss(2000, broker.SideBuy, 4); sl != 1990 {
		t.Fatalf("buy SL = %v", sl)
	}
	if tp := m.TakeProfit(2000, broker.SideBuy, 4); tp != 2016 {
		t.Fatalf("buy TP = %v", tp)
	}
	if sl := m.StopLoss(2000, broker.SideSell, 4); sl != 2010 {
		t.Fatalf("sell SL = %v", sl)
	}
	if tp := m.TakeProfit(2000, broker.SideSell, 4); tp != 1984 {
		t.Fatalf("sell TP = %v", tp)
	}

	cases := []struct {
		name      string
		side      broker.Side
		price, sl float64
		want      float64
		move      bool
	}{
		{"long ratchets up", broker.SideBuy, 2020, 1990, 2012, true},
		{"long never loosens", broker.SideBuy, 1995, 1990, 0, false},
		{"short ratchets down", broker.SideSell, 1980, 2010, 1988, true},
		{"short never loosens", broker.SideSell, 2005, 2010, 0, false},
		{"no stop yet", broker.SideBuy, 2000, 0, 1992, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := m.TrailingStop(tc.side, tc.price, tc.sl, 4)
			if ok != tc.move || got != tc.want {
				t.Fatalf("TrailingStop = %v %v, want %v %v", got, ok, tc.want, tc.move)
			}
		})
	}

	aggressive, _, _ := newTestManager(t, ModeAggressive, 10000, 0)
	if _, ok := aggressive.TrailingStop(broker.SideBuy, 2020, 1990, 4); ok {
		t.Fatalf("aggressive profile has trailing off")
	}
}

func TestClassifyMargin(t *testing.T) {
	cases := []struct {
		level float64
		want  MarginStatus
	}{
		{1200, MarginSafe},
		{500, MarginSafe},
		{499.9, MarginDeclining},
		{300, MarginDeclining},
		{250, MarginWarning},
		{120, MarginCritical},
		{119.99, MarginCall},
		{0, MarginCall},
	}
	for _, tc := range cases {
		if got := ClassifyMargin(tc.level); got != tc.want {
			t.Fatalf("ClassifyMargin(%v) = %s, want %s", tc.level, got, tc.want)
		}
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_profiles.yaml")
	yaml := `
Conservative:
  risk_per_trade_percent: 0.25
  max_concurrent_positions: 2
  max_daily_loss_percent: 1.5
  max_drawdown_percent: 4
  position_size_multiplier: 1
  take_profit_atr_multiplier: 1.5
  stop_loss_atr_multiplier: 1
  trailing_stop_enabled: false
  max_leverage: 30
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	l, err := profiles.Select(ModeConservative)
	if err != nil || l.MaxConcurrentPositions != 2 || l.RiskPerTradePercent != 0.25 {
		t.Fatalf("conservative = %+v, %v", l, err)
	}
	if _, err := profiles.Select(ModeModerate); err == nil {
		t.Fatalf("a custom table replaces the built-ins")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("moderate:\n  risk_per_trade_percent: 0\n"), 0o644)
	if _, err := LoadProfiles(bad); err == nil {
		t.Fatalf("invalid profile accepted")
	}

	unknown := filepath.Join(dir, "unknown.yaml")
	os.WriteFile(unknown, []byte(yaml+"scalper:\n  risk_per_trade_percent: 0.5\n  max_concurrent_positions: 1\n  max_daily_loss_percent: 1\n  max_drawdown_percent: 2\n  position_size_multiplier: 1\n  take_profit_atr_multiplier: 1\n  stop_loss_atr_multiplier: 1\n  max_leverage: 10\n"), 0o644)
	if _, err := LoadProfiles(unknown); err == nil || !strings.Contains(err.Error(), "scalper") {
		t.Fatalf("unknown mode key accepted: %v", err)
	}

	builtin, err := LoadProfiles("")
	if err != nil || len(builtin.Modes()) != 3 {
		t.Fatalf("built-in table = %v, %v", builtin.Modes(), err)
	}
}

func TestRestoreKeepsTrippedLatch(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	m, acct, _ := newTestManager(t, ModeModerate, 10000, 0)
	m.DB = database
	m.UpdateMetrics(ctx)
	acct.setEquity(9400)
	m.UpdateMetrics(ctx)

	again, _, closer := newTestManager(t, ModeModerate, 9400, 0)
	again.DB = database
	if err := again.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if again.TradingEnabled() {
		t.Fatalf("tripped latch must survive a restart")
	}
	if st := again.State(); st.DailyStartEquity != 10000 {
		t.Fatalf("daily baseline lost: %+v", st)
	}
	again.UpdateMetrics(ctx)
	if closer.calls != 0 {
		t.Fatalf("restored latch must not re-fire the stop")
	}
}

func TestUpdateMetricsNoData(t *testing.T) {
	m, acct, _ := newTestManager(t, ModeModerate, 10000, 0)
	acct.err = errors.New("no data")
	if err := m.UpdateMetrics(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if st := m.State(); st.Date != "" {
		t.Fatalf("state changed without a snapshot: %+v", st)
	}
}

func TestWhileEnabledHoldsOffEmergencyStop(t *testing.T) {
	m, _, closer := newTestManager(t, ModeModerate, 10000, 0)
	ctx := context.Background()

	entered, release := make(chan struct{}), make(chan struct{})
	ran := make(chan bool)
	go func() {
		ran <- m.WhileEnabled(func() {
			close(entered)
			<-release
		})
	}()
	<-entered

	stopped := make(chan int)
	go func() { stopped <- m.EmergencyStop(ctx, "drawdown") }()
	select {
	case <-stopped:
		t.Fatalf("emergency stop finished while a submission was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if !<-ran {
		t.Fatalf("submission should have run")
	}
	<-stopped
	if closer.calls != 1 {
		t.Fatalf("close-all calls = %d, want 1", closer.calls)
	}

	if m.WhileEnabled(func() { t.Fatalf("submitted after the stop") }) {
		t.Fatalf("WhileEnabled reported a run with the latch closed")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"moderate", ModeModerate, true},
		{" Aggressive ", ModeAggressive, true},
		{"CONSERVATIVE", ModeConservative, true},
		{"", "", false},
		{"yolo", "", false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
