package events

import (
	"context"
	"sync"
)

// Queue is an unbounded subscription. Publish never blocks on it and never
// drops; the consumer drains at its own pace.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	ready  chan struct{}
	closed bool
}

func newQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) push(env Envelope) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, env)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// TryPop returns the oldest pending envelope without waiting.
func (q *Queue) TryPop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = Envelope{}
	q.items = q.items[1:]
	return env, true
}

// Pop waits for the next envelope. It returns false once ctx is done, leaving
// any backlog to TryPop, or once the queue is closed and empty.
func (q *Queue) Pop(ctx context.Context) (Envelope, bool) {
	for {
		if ctx.Err() != nil {
			return Envelope{}, false
		}
		if env, ok := q.TryPop(); ok {
			return env, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Envelope{}, false
		}
		select {
		case <-ctx.Done():
			return Envelope{}, false
		case <-q.ready:
		}
	}
}

// Len is the number of pending envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
