// Package clock abstracts the time primitives timesyncd depends on: reading
// the wall clock, arming one-shot timers, and stepping the system clock.
// Production code uses System/Wall; tests inject Manual for deterministic
// timer control.
package clock

import "time"

// Clock provides wall-clock reads and one-shot deferred timers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc waits for the duration to elapse and then calls f in its own
	// goroutine. Returns a Timer that can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call was
	// stopped, false if the timer has already expired or been stopped.
	Stop() bool
}

// Setter applies an absolute time value to the system clock.
type Setter interface {
	SetTime(t time.Time) error
}

// Wall implements Clock using the standard time package.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

func (Wall) AfterFunc(d time.Duration, f func()) Timer {
	return wallTimer{t: time.AfterFunc(d, f)}
}

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Stop() bool { return w.t.Stop() }
