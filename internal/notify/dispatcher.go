package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mt5-trader/internal/events"
	"mt5-trader/pkg/i18n"
)

// Dispatcher turns position lifecycle events into notifications. Delivery
// happens on its own goroutine so the trading loop never waits on the network.
type Dispatcher struct {
	Bus  *events.Bus
	Sink Notifier

	wg sync.WaitGroup
}

var dispatched = []events.Event{
	events.EventPositionOpened,
	events.EventPositionClosed,
	events.EventBotStarted,
}

// drainTimeout bounds delivery of queued messages after shutdown.
const drainTimeout = 15 * time.Second

// Start consumes events until ctx is done, then delivers whatever is still
// queued. Lifecycle events are never dropped, however slow the sink is.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.Bus == nil || d.Sink == nil {
		log.Println("notification dispatcher not configured; skipping")
		return
	}
	queue, unsub := d.Bus.SubscribeQueue(dispatched...)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			env, ok := queue.Pop(ctx)
			if !ok {
				break
			}
			d.deliver(ctx, env)
		}
		unsub()

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		for {
			env, ok := queue.TryPop()
			if !ok {
				return
			}
			d.deliver(drainCtx, env)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, env events.Envelope) {
	text := Format(env.Payload)
	if text == "" {
		return
	}
	if !d.Sink.Send(ctx, text) {
		log.Printf("notify: delivery failed for %s", env.Event)
	}
}

// Wait blocks until the delivery goroutine has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Format renders a lifecycle payload in the current language. Unknown payloads
// render as "".
func Format(payload any) string {
	msgs := i18n.M()
	switch p := payload.(type) {
	case events.PositionOpened:
		return fmt.Sprintf(msgs.PositionOpened, OriginLabel(p.Origin), p.Ticket, p.Side, p.Symbol, p.Volume, p.EntryPrice, p.Balance, p.Equity, p.MarginLevel, p.MarginFree)
	case events.PositionClosed:
		tag := "✅ " + msgs.Win
		if p.Profit < 0 {
			tag = "❌ " + msgs.Loss
		}
		return fmt.Sprintf(msgs.PositionClosed, tag, OriginLabel(p.Origin), p.Ticket, p.Symbol, p.Volume, p.EntryPrice, p.ExitPrice, p.Profit)
	case events.BotStarted:
		return fmt.Sprintf(msgs.BotStarted, p.Symbol, p.Mode, p.Balance, p.Currency, p.OpenPositions)
	default:
		return ""
	}
}

// OriginLabel translates a position origin.
func OriginLabel(o events.Origin) string {
	msgs := i18n.M()
	switch o {
	case events.OriginBot:
		return msgs.OriginBot
	case events.OriginOther:
		return msgs.OriginOther
	default:
		return msgs.OriginManual
	}
}
