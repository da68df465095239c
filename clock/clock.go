/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package clock

import (
	"sync"
	"time"
)

// Clock is a source of the current time.
// Implementations must never go backward.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// New returns a Clock backed by time.Now.
// Returned values carry the monotonic clock reading, so wall clock adjustments don't affect durations between them.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Fake is a Clock which time moves only when it is told to.
// It is safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

var _ Clock = (*Fake)(nil)

// NewFake creates a new Fake clock that starts at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time forward by d.
// Negative durations are ignored.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the fake time to t. It's a no-op if t is before the current fake time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.After(f.now) {
		f.now = t
	}
}
