// Package gateway owns the connection lifecycle to the brokerage terminal and
// exposes the read and submit primitives the rest of the bot uses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mt5-trader/internal/events"
	"mt5-trader/pkg/broker"
)

var (
	ErrNotConnected       = errors.New("terminal not connected")
	ErrNoData             = errors.New("terminal returned no data")
	ErrReconnectExhausted = errors.New("max reconnection attempts reached")
	errTerminalPanicked   = errors.New("terminal call panicked")
)

// State is the connection state machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds gateway tuning.
type Config struct {
	Credentials          broker.Credentials
	MaxReconnectAttempts int           // attempts before giving up for the process lifetime
	MaxBackoff           time.Duration // cap on a single reconnect wait
	RequestsPerSecond    float64       // pacing for terminal calls
	Burst                int
}

// DefaultConfig returns the production reconnect policy.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		MaxBackoff:           60 * time.Second,
		RequestsPerSecond:    20,
		Burst:                5,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the wait before reconnect attempt n (1-based): min(2^n s, max).
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return max
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > max {
		return max
	}
	return d
}

// Stats is a read-only view for status endpoints.
type Stats struct {
	State          string    `json:"state"`
	Attempts       int       `json:"reconnect_attempts"`
	Exhausted      bool      `json:"reconnect_exhausted"`
	ConnectedSince time.Time `json:"connected_since"`
	LastError      string    `json:"last_error,omitempty"`
}

// Gateway wraps a broker.Terminal with a connection state machine.
type Gateway struct {
	term    broker.Terminal
	cfg     Config
	bus     *events.Bus
	limiter *rate.Limiter
	sleep   Sleeper

	// mu serializes connect, disconnect and reconnect.
	mu sync.Mutex

	state     atomic.Int32
	attempts  atomic.Int32
	exhausted atomic.Bool

	infoMu      sync.RWMutex
	connectedAt time.Time
	lastErr     error
}

// New builds a gateway in the Disconnected state. bus may be nil.
func New(term broker.Terminal, cfg Config, bus *events.Bus) *Gateway {
	def := DefaultConfig()
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &Gateway{
		term:    term,
		cfg:     cfg,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		sleep:   sleepCtx,
	}
}

// SetSleeper replaces the backoff sleeper (tests record waits instead of sleeping).
func (g *Gateway) SetSleeper(s Sleeper) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sleep = s
}

// State returns the current connection state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsConnected reports whether the state machine is in Connected.
func (g *Gateway) IsConnected() bool {
	return g.State() == StateConnected
}

// Exhausted reports whether automatic reconnection has been given up.
func (g *Gateway) Exhausted() bool {
	return g.exhausted.Load()
}

// Stats returns a snapshot of the connection bookkeeping.
func (g *Gateway) Stats() Stats {
	g.infoMu.RLock()
	defer g.infoMu.RUnlock()
	s := Stats{
		State:          g.State().String(),
		Attempts:       int(g.attempts.Load()),
		Exhausted:      g.exhausted.Load(),
		ConnectedSince: g.connectedAt,
	}
	if g.lastErr != nil {
		s.LastError = g.lastErr.Error()
	}
	return s
}

// Connect initializes and logs in to the terminal. It is idempotent and never panics.
func (g *Gateway) Connect(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectLocked(ctx)
}

func (g *Gateway) connectLocked(ctx context.Context) bool {
	if g.State() == StateConnected {
		return true
	}
	if g.State() != StateReconnecting {
		g.setState(StateConnecting)
	}

	if !g.dial(ctx) {
		g.setState(StateDisconnected)
		return false
	}

	g.attempts.Store(0)
	g.infoMu.Lock()
	g.connectedAt = time.Now()
	g.infoMu.Unlock()
	g.setState(StateConnected)

	if acct, err := g.term.AccountInfo(ctx); err == nil && acct != nil {
		log.Printf("gateway: connected to terminal (account=%d balance=%.2f %s)", acct.Login, acct.Balance, acct.Currency)
	} else {
		log.Printf("gateway: connected to terminal")
	}
	return true
}

// dial runs initialize and login, converting terminal panics into failures.
func (g *Gateway) dial(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.setErr(fmt.Errorf("%w: %v", errTerminalPanicked, r))
			log.Printf("gateway: terminal panicked during connect: %v", r)
			ok = false
		}
	}()

	creds := g.cfg.Credentials
	if err := g.term.Initialize(ctx, creds); err != nil {
		g.setErr(fmt.Errorf("initialize: %w", err))
		log.Printf("gateway: failed to initialize terminal: %v", err)
		return false
	}
	if creds.Account != 0 && creds.Password != "" && creds.Server != "" {
		if err := g.term.Login(ctx, creds); err != nil {
			g.setErr(fmt.Errorf("login: %w", err))
			log.Printf("gateway: failed to login account %d on %s: %v", creds.Account, creds.Server, err)
			_ = g.term.Shutdown(ctx)
			return false
		}
	}
	return true
}

// Disconnect shuts the terminal session down.
func (g *Gateway) Disconnect(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.State() == StateDisconnected {
		return
	}
	if err := g.term.Shutdown(ctx); err != nil {
		log.Printf("gateway: shutdown error: %v", err)
	}
	g.setState(StateDisconnected)
	log.Printf("gateway: disconnected from terminal")
}

// EnsureConnected returns true when the terminal is connected and answers a
// liveness check; otherwise it drives a connect or a backoff reconnect.
func (g *Gateway) EnsureConnected(ctx context.Context) bool {
	if g.State() == StateConnected {
		err := g.ping(ctx)
		if err == nil {
			return true
		}
		g.setErr(err)
		log.Printf("gateway: terminal connection lost (%v), attempting reconnect", err)
		g.mu.Lock()
		if g.State() == StateConnected {
			g.setState(StateReconnecting)
		}
		g.mu.Unlock()
		return g.Reconnect(ctx)
	}

	if g.exhausted.Load() {
		return false
	}
	if g.attempts.Load() > 0 {
		return g.Reconnect(ctx)
	}
	return g.Connect(ctx)
}

// Reconnect waits min(2^attempt, MaxBackoff) and connects again. Once
// MaxReconnectAttempts consecutive attempts have failed it refuses immediately,
// for the rest of the process lifetime.
func (g *Gateway) Reconnect(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.State() == StateConnected {
		return true
	}
	if g.exhausted.Load() || int(g.attempts.Load()) >= g.cfg.MaxReconnectAttempts {
		if !g.exhausted.Swap(true) {
			g.setErr(ErrReconnectExhausted)
			log.Printf("⛔ gateway: max reconnection attempts reached (%d), staying disconnected", g.cfg.MaxReconnectAttempts)
		}
		g.setState(StateDisconnected)
		return false
	}

	attempt := int(g.attempts.Add(1))
	wait := Backoff(attempt, g.cfg.MaxBackoff)
	g.setState(StateReconnecting)
	log.Printf("gateway: reconnecting to terminal (attempt %d/%d) in %s", attempt, g.cfg.MaxReconnectAttempts, wait)

	if err := g.sleep(ctx, wait); err != nil {
		g.setState(StateDisconnected)
		return false
	}
	return g.connectLocked(ctx)
}

func (g *Gateway) ping(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errTerminalPanicked, r)
		}
	}()
	return g.term.Ping(ctx)
}

func (g *Gateway) setState(s State) {
	prev := State(g.state.Swap(int32(s)))
	if prev != s {
		g.bus.Publish(events.EventConnection, g.Stats())
	}
}

func (g *Gateway) setErr(err error) {
	g.infoMu.Lock()
	g.lastErr = err
	g.infoMu.Unlock()
}
