// Package engine runs the trading bot: a cooperative scheduler for the
// reconcile and risk cadences, plus the synchronous trading loop that gates
// and executes signals. The API layer talks to it only through Service.
package engine

import (
	"context"
	"time"

	"mt5-trader/internal/gateway"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/session"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/db"
)

// Service defines the operations the control layer may invoke.
type Service interface {
	// Queries
	Status(ctx context.Context) Status
	Positions() []broker.Position
	Executions(ctx context.Context, limit int) ([]db.Execution, error)

	// Commands
	EnableTrading(ctx context.Context, actor string)
	DisableTrading(ctx context.Context, reason string) error
	EmergencyStop(ctx context.Context, reason string) int
}

// Status is the runtime snapshot exposed to the UI.
type Status struct {
	Symbol        string        `json:"symbol"`
	Strategy      string        `json:"strategy"`
	Session       string        `json:"trading_session"`
	Connection    gateway.Stats `json:"connection"`
	Risk          risk.Summary  `json:"risk"`
	Counters      session.State `json:"session"`
	OpenPositions int           `json:"open_positions"`
	FloatingPnL   float64       `json:"floating_pnl"`
	LastGate      string        `json:"last_gate,omitempty"`
	LastSignalAt  *time.Time    `json:"last_signal_at,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Uptime        string        `json:"uptime"`
}
