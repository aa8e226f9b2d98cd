package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mt5-trader/internal/gateway"
	"mt5-trader/internal/monitor"
)

// DefaultTick is the scheduler's base resolution.
const DefaultTick = 10 * time.Millisecond

type task struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) error
	last  time.Time
}

// Scheduler runs periodic jobs on a single goroutine. Jobs registered first
// run first within a tick, so reconcile is registered before risk.
type Scheduler struct {
	tick     time.Duration
	cooldown time.Duration
	tasks    []*task

	Prom    *monitor.Prom
	Metrics *monitor.SystemMetrics

	pausedUntil time.Time
	now         func() time.Time
}

// NewScheduler builds an empty scheduler. A zero tick uses DefaultTick.
func NewScheduler(tick, cooldown time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{tick: tick, cooldown: cooldown, now: time.Now}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Every registers fn to run at most once per interval.
func (s *Scheduler) Every(name string, every time.Duration, fn func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &task{name: name, every: every, run: fn})
}

// RunDue runs every job whose interval has elapsed and returns the names of
// the jobs that ran. After an unexpected error nothing runs until the
// cooldown passes.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	now := s.now()
	if now.Before(s.pausedUntil) {
		return nil
	}
	var ran []string
	for _, t := range s.tasks {
		if !t.last.IsZero() && now.Sub(t.last) < t.every {
			continue
		}
		t.last = now
		ran = append(ran, t.name)
		if err := s.runTask(ctx, t); err != nil {
			if Transient(err) {
				continue
			}
			log.Printf("scheduler: %s failed: %v (cooling down %v)", t.name, err, s.cooldown)
			s.countError()
			s.pausedUntil = now.Add(s.cooldown)
			return ran
		}
	}
	return ran
}

func (s *Scheduler) runTask(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", t.name, r)
		}
	}()
	return t.run(ctx)
}

func (s *Scheduler) countError() {
	if s.Prom != nil {
		s.Prom.LoopErrors.Inc()
	}
	if s.Metrics != nil {
		s.Metrics.IncrementErrors()
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	log.Printf("✓ Scheduler started (%d jobs, tick %v)", len(s.tasks), s.tick)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// Transient reports errors caused by a missing terminal or missing data.
// They skip the current pass and do not trigger a cooldown.
func Transient(err error) bool {
	return errors.Is(err, gateway.ErrNoData) || errors.Is(err, gateway.ErrNotConnected)
}
