package monitor

import (
	"context"
	"fmt"
	"log"

	"mt5-trader/internal/events"
	"mt5-trader/internal/gateway"
	"mt5-trader/pkg/i18n"
)

// Monitor watches risk and connection events and emits alerts.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Prom *Prom

	exhaustedSent bool
}

var watched = []events.Event{
	events.EventRiskAlert,
	events.EventMarginStatus,
	events.EventEmergencyStop,
	events.EventTradingEnabled,
	events.EventTradingDisabled,
	events.EventConnection,
}

// Start consumes events until ctx is done. Delivery runs on the monitor's own
// goroutine so a slow sink never blocks publishers, and alerts queue up
// rather than being dropped.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	queue, unsub := m.Bus.SubscribeQueue(watched...)
	go func() {
		defer unsub()
		for {
			env, ok := queue.Pop(ctx)
			if !ok {
				return
			}
			m.handle(ctx, env)
		}
	}()
}

func (m *Monitor) handle(ctx context.Context, env events.Envelope) {
	msg := m.format(env)
	if msg == "" {
		return
	}
	if !m.Sink.Send(ctx, msg) {
		log.Printf("monitor: alert delivery failed for %s", env.Event)
	}
}

// format renders an alert; it returns "" for events that only update gauges.
func (m *Monitor) format(env events.Envelope) string {
	msgs := i18n.M()
	switch p := env.Payload.(type) {
	case events.RiskAlert:
		return fmt.Sprintf(msgs.RiskAlert, p.Message)
	case events.MarginChange:
		if m.Prom != nil {
			m.Prom.MarginLevel.Set(p.Level)
		}
		return fmt.Sprintf(msgs.MarginStatus, p.Current, p.Level, p.Previous)
	case events.EmergencyStop:
		if m.Prom != nil {
			m.Prom.EmergencyStops.Inc()
		}
		return fmt.Sprintf(msgs.EmergencyStop, p.Reason, p.Closed)
	case events.TradingToggle:
		if m.Prom != nil {
			SetBool(m.Prom.TradingEnabled, p.Enabled)
		}
		if p.Enabled {
			return fmt.Sprintf(msgs.TradingEnabled, p.Actor)
		}
		return fmt.Sprintf(msgs.TradingDisabled, p.Reason)
	case gateway.Stats:
		if m.Prom != nil {
			m.Prom.ConnectionState.Set(connectionGauge(p.State))
		}
		if p.Exhausted && !m.exhaustedSent {
			m.exhaustedSent = true
			return fmt.Sprintf(msgs.ConnectionLost, p.LastError)
		}
		return ""
	case string:
		return fmt.Sprintf(msgs.RiskAlert, p)
	default:
		return ""
	}
}

func connectionGauge(state string) float64 {
	switch state {
	case gateway.StateConnecting.String():
		return 1
	case gateway.StateConnected.String():
		return 2
	case gateway.StateReconnecting.String():
		return 3
	default:
		return 0
	}
}
