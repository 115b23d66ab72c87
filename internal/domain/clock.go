package domain

import "github.com/jonboulle/clockwork"

// ClockOrReal returns c, or the real clock when c is nil. Components take an
// explicit clock so tests can freeze fetch and computation timestamps.
func ClockOrReal(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}
