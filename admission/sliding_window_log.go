/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "time"

// maxPreallocatedLogSize limits the initial size of the timestamps log,
// keys with big capacity grow their log on demand.
const maxPreallocatedLogSize = 64

// slidingWindowLog keeps exact timestamps of admitted requests within the last window.
type slidingWindowLog struct {
	capacity   int
	window     time.Duration
	timestamps []time.Time // ordered from the oldest to the newest one
}

func newSlidingWindowLog(capacity int, window time.Duration) *slidingWindowLog {
	return &slidingWindowLog{capacity: capacity, window: window}
}

func (sw *slidingWindowLog) decide(now time.Time) (admit bool, retryAfter time.Duration) {
	sw.dropExpired(now)
	if len(sw.timestamps) < sw.capacity {
		if sw.timestamps == nil {
			sw.timestamps = make([]time.Time, 0, minInt(sw.capacity, maxPreallocatedLogSize))
		}
		sw.timestamps = append(sw.timestamps, now)
		return true, 0
	}
	return false, sw.timestamps[0].Add(sw.window).Sub(now)
}

// dropExpired removes timestamps that are strictly older than now-window.
// Remaining timestamps are moved to the beginning of the same backing array.
func (sw *slidingWindowLog) dropExpired(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.timestamps) && sw.timestamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(sw.timestamps, sw.timestamps[i:])
	sw.timestamps = sw.timestamps[:n]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
