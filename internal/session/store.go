package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// ErrCorrupt is returned when the session file exists but cannot be decoded.
var ErrCorrupt = errors.New("session file corrupt")

// State is the bot's persisted session. The JSON keys match files written by
// earlier releases of the bot.
type State struct {
	DailyTrades   int     `json:"daily_trades"`
	DailyPnL      float64 `json:"daily_pnl"`
	LastTradeDate string  `json:"last_trade_date,omitempty"`
	TotalTrades   int     `json:"total_trades"`
	MarginStatus  string  `json:"margin_status,omitempty"`
}

// Store holds the session in memory and rewrites the file atomically on every
// change. Only the trading loop writes to it.
type Store struct {
	path string

	mu    sync.RWMutex
	state State
}

// Open reads path once. A missing file yields a zero state.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn and persists the result. On a write failure the in-memory
// state keeps the change and the error is returned.
func (s *Store) Update(fn func(*State)) error {
	s.mu.Lock()
	fn(&s.state)
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if s.path == "" {
		return nil
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", s.path, err)
	}
	return nil
}

// RollDay resets the daily counters when today differs from the last trade
// date. It reports whether a reset happened.
func (s *Store) RollDay(today string) (bool, error) {
	s.mu.RLock()
	same := s.state.LastTradeDate == today
	s.mu.RUnlock()
	if same {
		return false, nil
	}
	err := s.Update(func(st *State) {
		st.DailyTrades = 0
		st.DailyPnL = 0
		st.LastTradeDate = today
	})
	log.Printf("session: daily statistics reset for %s", today)
	return true, err
}

// RecordTrade counts one executed entry.
func (s *Store) RecordTrade() error {
	return s.Update(func(st *State) {
		st.DailyTrades++
		st.TotalTrades++
	})
}

// AddPnL adds realized profit or loss to the day.
func (s *Store) AddPnL(v float64) error {
	return s.Update(func(st *State) { st.DailyPnL += v })
}

// SetMarginStatus stores status and reports the previous value and whether
// it changed.
func (s *Store) SetMarginStatus(status string) (string, bool, error) {
	s.mu.RLock()
	prev := s.state.MarginStatus
	s.mu.RUnlock()
	if prev == status {
		return prev, false, nil
	}
	return prev, true, s.Update(func(st *State) { st.MarginStatus = status })
}

// Reset clears the whole session, including all-time counters.
func (s *Store) Reset() error {
	return s.Update(func(st *State) { *st = State{} })
}
