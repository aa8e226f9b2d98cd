package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/internal/monitor"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/db"
	"mt5-trader/pkg/i18n"
)

const dateLayout = "2006-01-02"

// Account is the read side of the gateway the manager needs.
type Account interface {
	AccountSnapshot(ctx context.Context) (*broker.AccountSnapshot, error)
	SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error)
}

// Liquidator flattens positions; an empty symbol means every symbol.
type Liquidator interface {
	CloseAllPositions(ctx context.Context, symbol string) int
}

// PositionCounter reports the size of the reconciled live set.
type PositionCounter interface {
	Count() int
}

// Manager owns the risk state, the trading latch and the emergency stop.
type Manager struct {
	acct      Account
	closer    Liquidator
	positions PositionCounter
	mode      Mode
	limits    Limits

	DB   *db.Database
	Bus  *events.Bus
	Prom *monitor.Prom

	mu             sync.RWMutex
	state          State
	disabledReason string
	lastAcct       broker.AccountSnapshot
	updatedAt      time.Time

	stopMu sync.Mutex
	now    func() time.Time
}

// NewManager builds a manager with trading enabled.
func NewManager(acct Account, closer Liquidator, positions PositionCounter, mode Mode, limits Limits) *Manager {
	log.Printf("Risk Manager initialized: mode=%s risk/trade=%.2f%% max_positions=%d daily_loss=%.1f%% max_dd=%.1f%%",
		mode, limits.RiskPerTradePercent, limits.MaxConcurrentPositions, limits.MaxDailyLossPercent, limits.MaxDrawdownPercent)
	return &Manager{
		acct:      acct,
		closer:    closer,
		positions: positions,
		mode:      mode,
		limits:    limits,
		state:     State{TradingEnabled: true},
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Mode returns the active profile name.
func (m *Manager) Mode() Mode { return m.mode }

// Limits returns the active profile.
func (m *Manager) Limits() Limits { return m.limits }

// State returns a copy of the risk state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TradingEnabled reports the latch.
func (m *Manager) TradingEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.TradingEnabled
}

// Restore loads today's persisted row so a restart keeps the day's baseline
// and a tripped latch.
func (m *Manager) Restore(ctx context.Context) error {
	if m.DB == nil {
		return nil
	}
	today := m.now().UTC().Format(dateLayout)
	row, err := m.DB.GetRiskMetrics(ctx, today)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state.Date = row.Date
	m.state.DailyStartEquity = row.DailyStartEquity
	m.state.DailyPnL = row.DailyPnL
	m.state.PeakEquity = row.PeakEquity
	m.state.MaxDrawdown = row.MaxDrawdown
	m.state.TradingEnabled = row.TradingEnabled
	if !row.TradingEnabled {
		m.disabledReason = "restored from previous session"
	}
	m.mu.Unlock()

	log.Printf("risk: restored %s start_equity=%.2f peak=%.2f max_dd=%.2f%% enabled=%v",
		row.Date, row.DailyStartEquity, row.PeakEquity, row.MaxDrawdown, row.TradingEnabled)
	return nil
}

// UpdateMetrics refreshes the risk state from a fresh account snapshot and
// trips the emergency stop on a daily-loss or drawdown breach. The stop fires
// at most once while the latch is already open.
func (m *Manager) UpdateMetrics(ctx context.Context) error {
	snap, err := m.acct.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("risk update: %w", err)
	}
	eq := snap.Equity

	m.mu.Lock()
	today := m.now().UTC().Format(dateLayout)
	if m.state.Date != today {
		if m.state.Date != "" {
			log.Printf("risk: new trading day %s, start equity %.2f (previous day P&L %.2f)", today, eq, m.state.DailyPnL)
		}
		m.state.Date = today
		m.state.DailyStartEquity = eq
		m.state.DailyPnL = 0
	}
	m.state.DailyPnL = eq - m.state.DailyStartEquity
	if eq > m.state.PeakEquity {
		m.state.PeakEquity = eq
	}
	m.state.Drawdown = 0
	if m.state.PeakEquity > 0 {
		m.state.Drawdown = (m.state.PeakEquity - eq) / m.state.PeakEquity * 100
	}
	if m.state.Drawdown > m.state.MaxDrawdown {
		m.state.MaxDrawdown = m.state.Drawdown
	}
	m.state.LastEquity = eq
	m.lastAcct = *snap
	m.updatedAt = m.now()

	var reason string
	if m.state.TradingEnabled {
		reason = m.breachLocked()
	}
	st := m.state
	m.mu.Unlock()

	m.observe(st, snap)
	m.persist(ctx, st)

	if reason != "" {
		m.EmergencyStop(ctx, reason)
	}
	return nil
}

func (m *Manager) breachLocked() string {
	if pct, ok := m.dailyPnLPercentLocked(); ok && pct < -m.limits.MaxDailyLossPercent {
		return fmt.Sprintf("daily loss limit breached: %.2f%% (limit %.2f%%)", pct, m.limits.MaxDailyLossPercent)
	}
	if m.state.MaxDrawdown > m.limits.MaxDrawdownPercent {
		return fmt.Sprintf("max drawdown breached: %.2f%% (limit %.2f%%)", m.state.MaxDrawdown, m.limits.MaxDrawdownPercent)
	}
	return ""
}

func (m *Manager) dailyPnLPercentLocked() (float64, bool) {
	if m.state.DailyStartEquity <= 0 {
		return 0, false
	}
	return m.state.DailyPnL / m.state.DailyStartEquity * 100, true
}

func (m *Manager) observe(st State, snap *broker.AccountSnapshot) {
	if m.Prom == nil {
		return
	}
	m.Prom.Equity.Set(snap.Equity)
	m.Prom.Balance.Set(snap.Balance)
	m.Prom.MarginLevel.Set(snap.MarginLevel)
	m.Prom.DailyPnL.Set(st.DailyPnL)
	m.Prom.DrawdownPct.Set(st.Drawdown)
	monitor.SetBool(m.Prom.TradingEnabled, st.TradingEnabled)
}

func (m *Manager) persist(ctx context.Context, st State) {
	if m.DB == nil || st.Date == "" {
		return
	}
	err := m.DB.UpsertRiskMetrics(ctx, db.RiskMetrics{
		Date:             st.Date,
		DailyStartEquity: st.DailyStartEquity,
		DailyPnL:         st.DailyPnL,
		PeakEquity:       st.PeakEquity,
		MaxDrawdown:      st.MaxDrawdown,
		TradingEnabled:   st.TradingEnabled,
	})
	if err != nil {
		log.Printf("risk: persist metrics: %v", err)
	}
}

// CanOpenPosition is the risk gate for new entries.
func (m *Manager) CanOpenPosition(symbol string) (bool, string) {
	msgs := i18n.M()

	m.mu.RLock()
	enabled := m.state.TradingEnabled
	disabledReason := m.disabledReason
	pct, havePct := m.dailyPnLPercentLocked()
	m.mu.RUnlock()

	if !enabled {
		return false, fmt.Sprintf(msgs.GateTradingDisabled, disabledReason)
	}
	if m.positions != nil {
		if n := m.positions.Count(); n >= m.limits.MaxConcurrentPositions {
			return false, fmt.Sprintf(msgs.GateMaxPositions, n, m.limits.MaxConcurrentPositions)
		}
	}
	if havePct && pct < -m.limits.MaxDailyLossPercent {
		return false, fmt.Sprintf(msgs.GateDailyLoss, pct)
	}
	return true, "OK"
}

// CalculatePositionSize sizes an entry so that hitting sl loses the profile's
// risk percentage of equity. It returns 0 when the stop distance is zero or the
// symbol specification is unavailable.
func (m *Manager) CalculatePositionSize(ctx context.Context, symbol string, entry, sl, equity float64) float64 {
	dist := math.Abs(entry - sl)
	if dist == 0 {
		return 0
	}
	info, err := m.acct.SymbolInfo(ctx, symbol)
	if err != nil || info == nil || info.ContractSize <= 0 {
		log.Printf("risk: no symbol info for %s, refusing to size: %v", symbol, err)
		return 0
	}

	riskAmount := equity * m.limits.RiskPerTradePercent / 100
	size := riskAmount / (info.ContractSize * dist) * m.limits.PositionSizeMultiplier
	return RoundVolume(size, info.VolumeStep, info.VolumeMin, info.VolumeMax)
}

// RoundVolume snaps size to the volume step and clamps it to [min, max].
func RoundVolume(size, step, min, max float64) float64 {
	if step > 0 {
		size = math.Round(size/step) * step
		// keep the step's precision so 0.1 is not 0.10000000000000001
		decimals := math.Max(0, math.Ceil(-math.Log10(step)))
		p := math.Pow(10, decimals)
		size = math.Round(size*p) / p
	}
	if min > 0 && size < min {
		size = min
	}
	if max > 0 && size > max {
		size = max
	}
	return size
}

// WhileEnabled runs submit only while the latch is open. EmergencyStop and
// DisableTrading wait for submit to return, so an entry either lands before
// the stop (and is flattened by it) or not at all. It reports whether submit
// ran.
func (m *Manager) WhileEnabled(submit func()) bool {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	m.mu.RLock()
	enabled := m.state.TradingEnabled
	m.mu.RUnlock()
	if !enabled {
		return false
	}
	submit()
	return true
}

// EmergencyStop closes the latch, then flattens every position. Closing
// failures are tolerated; the latch stays closed until EnableTrading.
func (m *Manager) EmergencyStop(ctx context.Context, reason string) int {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	m.mu.Lock()
	m.state.TradingEnabled = false
	m.disabledReason = reason
	st := m.state
	m.mu.Unlock()

	log.Printf("⛔ EMERGENCY STOP: %s", reason)
	m.persist(ctx, st)

	closed := 0
	if m.closer != nil {
		closed = m.closer.CloseAllPositions(ctx, "")
	}
	log.Printf("⛔ emergency stop closed %d positions", closed)

	if m.Prom != nil {
		monitor.SetBool(m.Prom.TradingEnabled, false)
	}
	m.Bus.Publish(events.EventEmergencyStop, events.EmergencyStop{
		Reason: reason,
		Closed: closed,
		At:     m.now(),
	})
	return closed
}

// EnableTrading reopens the latch. The drawdown baseline restarts at the last
// observed equity so the breach that closed the latch does not fire again.
func (m *Manager) EnableTrading(ctx context.Context, actor string) {
	m.mu.Lock()
	if m.state.TradingEnabled {
		m.mu.Unlock()
		return
	}
	m.state.TradingEnabled = true
	m.disabledReason = ""
	if m.state.LastEquity > 0 {
		m.state.PeakEquity = m.state.LastEquity
	}
	m.state.Drawdown = 0
	m.state.MaxDrawdown = 0
	st := m.state
	m.mu.Unlock()

	log.Printf("✓ trading enabled by %s", actor)
	m.persist(ctx, st)
	m.Bus.Publish(events.EventTradingEnabled, events.TradingToggle{Enabled: true, Actor: actor})
}

// DisableTrading closes the latch without touching open positions.
func (m *Manager) DisableTrading(ctx context.Context, reason string) error {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	m.mu.Lock()
	if !m.state.TradingEnabled {
		m.mu.Unlock()
		return ErrTradingDisabled
	}
	m.state.TradingEnabled = false
	m.disabledReason = reason
	st := m.state
	m.mu.Unlock()

	log.Printf("trading disabled: %s", reason)
	m.persist(ctx, st)
	m.Bus.Publish(events.EventTradingDisabled, events.TradingToggle{Enabled: false, Reason: reason})
	return nil
}

// Summary returns the risk view from the last update.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pct, _ := m.dailyPnLPercentLocked()
	s := Summary{
		Mode:            m.mode,
		TradingEnabled:  m.state.TradingEnabled,
		DisabledReason:  m.disabledReason,
		DailyPnL:        m.state.DailyPnL,
		DailyPnLPercent: pct,
		Drawdown:        m.state.Drawdown,
		MaxDrawdown:     m.state.MaxDrawdown,
		MaxPositions:    m.limits.MaxConcurrentPositions,
		Equity:          m.lastAcct.Equity,
		Balance:         m.lastAcct.Balance,
		MarginLevel:     m.lastAcct.MarginLevel,
		Limits:          m.limits,
		UpdatedAt:       m.updatedAt,
	}
	if m.positions != nil {
		s.CurrentPositions = m.positions.Count()
	}
	return s
}
