package events

import (
	"log"
	"sync"
)

// Bus is a lightweight pub/sub broker using channels.
// A nil *Bus is valid and drops everything.
type Bus struct {
	mu   sync.RWMutex
	subs   map[Event][]chan any
	all    []chan Envelope
	queues map[Event][]*Queue
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any), queues: make(map[Event][]*Queue)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// SubscribeAll receives every topic wrapped in an Envelope.
func (b *Bus) SubscribeAll(buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.all = append(b.all, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, c := range b.all {
				if c == ch {
					close(c)
					b.all = append(b.all[:i], b.all[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// SubscribeQueue registers an unbounded queue for the given topics. Use it
// for consumers that must see every event.
func (b *Bus) SubscribeQueue(topics ...Event) (*Queue, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := newQueue()
	for _, e := range topics {
		b.queues[e] = append(b.queues[e], q)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				qs := b.queues[e]
				for i, c := range qs {
					if c == q {
						b.queues[e] = append(qs[:i], qs[i+1:]...)
						break
					}
				}
			}
			q.close()
		})
	}
	return q, unsub
}

// Publish fans out the payload without blocking. Channel subscribers that are
// full miss the message and the drop is logged; queues never drop.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			log.Printf("events: dropped %s for a slow subscriber", e)
		}
	}
	env := Envelope{Event: e, Payload: payload}
	for _, ch := range b.all {
		select {
		case ch <- env:
		default:
			log.Printf("events: dropped %s for a slow stream subscriber", e)
		}
	}
	for _, q := range b.queues[e] {
		q.push(env)
	}
}
