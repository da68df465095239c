/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "time"

// leakyBucket models a queue that drains at capacity/window requests per second.
// A request is admitted if it fits into the queue, otherwise it's rejected.
type leakyBucket struct {
	capacity float64
	rate     float64 // requests per second
	level    float64
	lastLeak time.Time
}

func newLeakyBucket(capacity int, window time.Duration) *leakyBucket {
	return &leakyBucket{
		capacity: float64(capacity),
		rate:     float64(capacity) / window.Seconds(),
	}
}

func (lb *leakyBucket) decide(now time.Time) (admit bool, retryAfter time.Duration) {
	lb.leak(now)
	if lb.level+1 <= lb.capacity {
		lb.level++
		return true, 0
	}
	return false, durationFromSeconds((lb.level + 1 - lb.capacity) / lb.rate)
}

func (lb *leakyBucket) leak(now time.Time) {
	if !lb.lastLeak.IsZero() {
		if elapsed := now.Sub(lb.lastLeak); elapsed > 0 {
			lb.level -= elapsed.Seconds() * lb.rate
			if lb.level < 0 {
				lb.level = 0
			}
		}
	}
	if now.After(lb.lastLeak) {
		lb.lastLeak = now
	}
}
