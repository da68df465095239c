/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "time"

// fixedWindow counts requests in consecutive non-overlapping windows.
// A window starts at the first call after the previous one has expired (not aligned to a clock grid),
// so up to 2*capacity requests may be admitted around a window boundary.
type fixedWindow struct {
	capacity    int
	window      time.Duration
	windowStart time.Time
	started     bool
	count       int
}

func newFixedWindow(capacity int, window time.Duration) *fixedWindow {
	return &fixedWindow{capacity: capacity, window: window}
}

func (fw *fixedWindow) decide(now time.Time) (admit bool, retryAfter time.Duration) {
	if !fw.started || !now.Before(fw.windowStart.Add(fw.window)) {
		fw.windowStart = now
		fw.started = true
		fw.count = 0
	}
	if fw.count < fw.capacity {
		fw.count++
		return true, 0
	}
	return false, fw.windowStart.Add(fw.window).Sub(now)
}
