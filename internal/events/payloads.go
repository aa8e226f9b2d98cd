package events

import "time"

// Origin classifies who opened a position.
type Origin string

const (
	OriginBot    Origin = "BOT"
	OriginOther  Origin = "OTHER_AUTOMATED"
	OriginManual Origin = "MANUAL"
)

// PositionOpened is published once per newly observed ticket.
type PositionOpened struct {
	Ticket      uint64    `json:"ticket"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Volume      float64   `json:"volume"`
	EntryPrice  float64   `json:"entry_price"`
	Magic       int64     `json:"magic"`
	Origin      Origin    `json:"origin"`
	Balance     float64   `json:"balance"`
	Equity      float64   `json:"equity"`
	MarginLevel float64   `json:"margin_level"` // percent, 0 without exposure
	MarginFree  float64   `json:"margin_free"`
	OpenedAt    time.Time `json:"opened_at"`
}

// PositionClosed is published once per settled exit deal.
type PositionClosed struct {
	DealID     string    `json:"deal_id"`
	Ticket     uint64    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"`
	Magic      int64     `json:"magic"`
	Origin     Origin    `json:"origin"`
	ClosedAt   time.Time `json:"closed_at"`
}

// RiskAlert carries a human-readable risk warning.
type RiskAlert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// MarginChange is published only when the margin status changes.
type MarginChange struct {
	Previous string  `json:"previous"`
	Current  string  `json:"current"`
	Level    float64 `json:"margin_level"`
}

// EmergencyStop reports a latched stop and how many positions were flattened.
type EmergencyStop struct {
	Reason string    `json:"reason"`
	Closed int       `json:"closed"`
	At     time.Time `json:"at"`
}

// TradingToggle reports an admin or automatic enable/disable.
type TradingToggle struct {
	Enabled bool   `json:"enabled"`
	Actor   string `json:"actor,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BotStarted is published after a successful startup.
type BotStarted struct {
	Symbol        string  `json:"symbol"`
	Mode          string  `json:"mode"`
	Balance       float64 `json:"balance"`
	Currency      string  `json:"currency"`
	OpenPositions int     `json:"open_positions"`
}
