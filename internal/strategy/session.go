package strategy

import "time"

// Session is a named trading session.
type Session string

const (
	SessionLondon Session = "LONDON"
	SessionNY     Session = "NY"
	SessionAsian  Session = "ASIAN"
)

// SessionFilter allows entries only during enabled sessions. Hours are UTC.
type SessionFilter struct {
	London bool
	NY     bool
	Asian  bool
}

// Current returns the session for t. London wins the 13:00-16:00 overlap and
// the late evening after New York closes counts as Asian.
func Current(t time.Time) Session {
	h := t.UTC().Hour()
	switch {
	case h >= 8 && h < 16:
		return SessionLondon
	case h >= 13 && h < 20:
		return SessionNY
	default:
		return SessionAsian
	}
}

// Allowed reports whether trading is enabled for the session at t.
func (f SessionFilter) Allowed(t time.Time) bool {
	switch Current(t) {
	case SessionLondon:
		return f.London
	case SessionNY:
		return f.NY
	default:
		return f.Asian
	}
}
