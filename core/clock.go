package core

import "time"

// Timer is the subset of *time.Timer used by schedulers.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time so windows, jitter and wake timers are testable.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the real-time Clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
