package events

// Event enumerates high-level topics inside the bot.
type Event string

const (
	EventOrderExecuted   Event = "order.executed"
	EventPositionOpened  Event = "position.opened"
	EventPositionClosed  Event = "position.closed"
	EventRiskAlert       Event = "risk.alert"
	EventEmergencyStop   Event = "risk.emergency_stop"
	EventTradingEnabled  Event = "risk.trading_enabled"
	EventTradingDisabled Event = "risk.trading_disabled"
	EventMarginStatus    Event = "account.margin_status"
	EventConnection      Event = "gateway.connection"
	EventBotStarted      Event = "bot.started"
)

// All lists every topic, used by fan-out subscribers such as the websocket stream.
var All = []Event{
	EventOrderExecuted,
	EventPositionOpened,
	EventPositionClosed,
	EventRiskAlert,
	EventEmergencyStop,
	EventTradingEnabled,
	EventTradingDisabled,
	EventMarginStatus,
	EventConnection,
	EventBotStarted,
}

// Envelope wraps a payload with its topic for consumers that merge several topics.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}
