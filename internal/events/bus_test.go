package events

import (
	"context"
	"testing"
	"time"
)

func TestBusDeliversToTopicAndWildcard(t *testing.T) {
	bus := NewBus()
	opened, unsubOpened := bus.Subscribe(EventPositionOpened, 1)
	defer unsubOpened()
	all, unsubAll := bus.SubscribeAll(4)
	defer unsubAll()

	bus.Publish(EventPositionOpened, "ticket-1")
	bus.Publish(EventRiskAlert, "alert")

	if got := <-opened; got != "ticket-1" {
		t.Fatalf("topic payload = %v", got)
	}
	first, second := <-all, <-all
	if first.Event != EventPositionOpened || second.Event != EventRiskAlert {
		t.Fatalf("wildcard order = %v, %v", first.Event, second.Event)
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderExecuted, 1)

	bus.Publish(EventOrderExecuted, 1)
	bus.Publish(EventOrderExecuted, 2)

	if got := <-ch; got != 1 {
		t.Fatalf("expected first payload, got %v", got)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(EventBotStarted, nil)
}

func TestQueueKeepsEveryEventOfItsTopics(t *testing.T) {
	bus := NewBus()
	q, unsub := bus.SubscribeQueue(EventPositionOpened, EventPositionClosed)

	for i := 0; i < 500; i++ {
		bus.Publish(EventOrderExecuted, i)
		bus.Publish(EventPositionClosed, i)
	}
	bus.Publish(EventPositionOpened, "last")
	if q.Len() != 501 {
		t.Fatalf("queued = %d, want 501", q.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 500; i++ {
		env, ok := q.Pop(ctx)
		if !ok || env.Event != EventPositionClosed || env.Payload != i {
			t.Fatalf("pop %d = %+v, %v", i, env, ok)
		}
	}

	// pending items survive unsubscribe, then the queue reports closed
	unsub()
	bus.Publish(EventPositionOpened, "after")
	if env, ok := q.Pop(ctx); !ok || env.Payload != "last" {
		t.Fatalf("pending pop = %+v, %v", env, ok)
	}
	if _, ok := q.Pop(ctx); ok {
		t.Fatalf("closed queue should be exhausted")
	}
}

func TestQueuePopWaitsForPublish(t *testing.T) {
	bus := NewBus()
	q, unsub := bus.SubscribeQueue(EventBotStarted)
	defer unsub()

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Publish(EventBotStarted, "up")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if env, ok := q.Pop(ctx); !ok || env.Payload != "up" {
		t.Fatalf("pop = %+v, %v", env, ok)
	}

	short, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	if _, ok := q.Pop(short); ok {
		t.Fatalf("pop on an empty queue should end with its context")
	}

	// a done context leaves the backlog for TryPop
	bus.Publish(EventBotStarted, "backlog")
	if _, ok := q.Pop(short); ok {
		t.Fatalf("pop after its context ended")
	}
	if env, ok := q.TryPop(); !ok || env.Payload != "backlog" {
		t.Fatalf("try pop = %+v, %v", env, ok)
	}
}
