package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

var attemptClock clockwork.Clock = clockwork.NewRealClock()

// SetClock replaces the clock that stamps geocode attempts and returns a
// function restoring the previous one.
func SetClock(c clockwork.Clock) (restore func()) {
	prev := attemptClock
	attemptClock = c
	return func() { attemptClock = prev }
}

// now is the attempt timestamp, always in UTC.
func now() time.Time {
	return attemptClock.Now().UTC()
}
