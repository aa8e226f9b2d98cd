package risk

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTradingDisabled is returned by admin transitions that need an enabled latch.
var ErrTradingDisabled = errors.New("trading disabled")

// Mode names a risk profile.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeModerate     Mode = "moderate"
	ModeAggressive   Mode = "aggressive"
)

// ParseMode normalizes a mode name and rejects anything but the three modes.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeConservative, ModeModerate, ModeAggressive:
		return m, nil
	case "":
		return "", fmt.Errorf("empty risk mode")
	}
	return "", fmt.Errorf("unknown risk mode %q (want %s, %s or %s)", s, ModeConservative, ModeModerate, ModeAggressive)
}

// Limits is an immutable risk profile.
type Limits struct {
	RiskPerTradePercent    float64 `yaml:"risk_per_trade_percent" json:"risk_per_trade_percent"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions" json:"max_concurrent_positions"`
	MaxDailyLossPercent    float64 `yaml:"max_daily_loss_percent" json:"max_daily_loss_percent"`
	MaxDrawdownPercent     float64 `yaml:"max_drawdown_percent" json:"max_drawdown_percent"`
	PositionSizeMultiplier float64 `yaml:"position_size_multiplier" json:"position_size_multiplier"`
	TakeProfitATRMult      float64 `yaml:"take_profit_atr_multiplier" json:"take_profit_atr_multiplier"`
	StopLossATRMult        float64 `yaml:"stop_loss_atr_multiplier" json:"stop_loss_atr_multiplier"`
	TrailingStop           bool    `yaml:"trailing_stop_enabled" json:"trailing_stop_enabled"`
	TrailingATRMult        float64 `yaml:"trailing_stop_atr_multiplier" json:"trailing_stop_atr_multiplier"`
	MaxLeverage            float64 `yaml:"max_leverage" json:"max_leverage"`
}

// Validate rejects profiles that would size or stop nonsensically.
func (l Limits) Validate() error {
	var errs []error
	if l.RiskPerTradePercent <= 0 {
		errs = append(errs, fmt.Errorf("risk_per_trade_percent must be positive"))
	}
	if l.MaxConcurrentPositions <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_positions must be positive"))
	}
	if l.MaxDailyLossPercent <= 0 || l.MaxDrawdownPercent <= 0 {
		errs = append(errs, fmt.Errorf("loss and drawdown limits must be positive"))
	}
	if l.PositionSizeMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("position_size_multiplier must be positive"))
	}
	if l.StopLossATRMult <= 0 || l.TakeProfitATRMult <= 0 {
		errs = append(errs, fmt.Errorf("ATR multipliers must be positive"))
	}
	if l.TrailingStop && l.TrailingATRMult <= 0 {
		errs = append(errs, fmt.Errorf("trailing_stop_atr_multiplier must be positive when trailing is on"))
	}
	return errors.Join(errs...)
}

// State is the mutable risk state owned by the Manager.
type State struct {
	Date             string  `json:"date"` // UTC, 2006-01-02
	DailyStartEquity float64 `json:"daily_start_equity"`
	DailyPnL         float64 `json:"daily_pnl"`
	PeakEquity       float64 `json:"peak_equity"`
	Drawdown         float64 `json:"drawdown"`     // percent
	MaxDrawdown      float64 `json:"max_drawdown"` // percent
	TradingEnabled   bool    `json:"trading_enabled"`
	LastEquity       float64 `json:"last_equity"`
}

// Summary is the risk view served by the status endpoint.
type Summary struct {
	Mode             Mode      `json:"risk_mode"`
	TradingEnabled   bool      `json:"trading_enabled"`
	DisabledReason   string    `json:"disabled_reason,omitempty"`
	DailyPnL         float64   `json:"daily_pnl"`
	DailyPnLPercent  float64   `json:"daily_pnl_percent"`
	Drawdown         float64   `json:"drawdown"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	CurrentPositions int       `json:"current_positions"`
	MaxPositions     int       `json:"max_positions"`
	Equity           float64   `json:"equity"`
	Balance          float64   `json:"balance"`
	MarginLevel      float64   `json:"margin_level"`
	Limits           Limits    `json:"limits"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MarginStatus is a rung of the margin-level ladder.
type MarginStatus string

const (
	MarginSafe      MarginStatus = "SAFE"
	MarginDeclining MarginStatus = "DECLINING"
	MarginWarning   MarginStatus = "WARNING"
	MarginCritical  MarginStatus = "CRITICAL"
	MarginCall      MarginStatus = "MARGIN_CALL"
)

// ClassifyMargin maps a margin level percentage onto the ladder.
func ClassifyMargin(level float64) MarginStatus {
	switch {
	case level >= 500:
		return MarginSafe
	case level >= 300:
		return MarginDeclining
	case level >= 200:
		return MarginWarning
	case level >= 120:
		return MarginCritical
	default:
		return MarginCall
	}
}
