// Package clock wraps the time primitives the scan pipeline schedules
// against. Code takes a Clock so tests can drive timers without waiting
// on wall time.
package clock

import "time"

// Clock is the time source handed to anything that arms timers.
type Clock interface {
	// AfterFunc runs f in its own goroutine once d has elapsed and
	// returns a Timer that can cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
	// Now reports the current time.
	Now() time.Time
}

// Timer is an armed AfterFunc callback.
type Timer interface {
	// Stop cancels the callback. It reports false when the timer has
	// already fired or was stopped before.
	Stop() bool
}

// RealClock delegates to package time.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}
