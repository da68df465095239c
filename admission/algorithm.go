/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"strings"
	"time"
)

// Algorithm represents a type for specifying admission algorithm.
type Algorithm int

// Supported admission algorithms.
// Zero value is not a valid algorithm, callers should resolve it to AlgorithmTokenBucket explicitly.
const (
	AlgorithmTokenBucket Algorithm = iota + 1
	AlgorithmLeakyBucket
	AlgorithmFixedWindow
	AlgorithmSlidingWindowLog
)

const (
	algorithmTokenBucketText      = "token_bucket"
	algorithmLeakyBucketText      = "leaky_bucket"
	algorithmFixedWindowText      = "fixed_window"
	algorithmSlidingWindowLogText = "sliding_window_log"
)

// AlgorithmNames contains text forms of all supported algorithms.
var AlgorithmNames = []string{
	algorithmTokenBucketText,
	algorithmLeakyBucketText,
	algorithmFixedWindowText,
	algorithmSlidingWindowLogText,
}

// ParseAlgorithm parses algorithm from its text form.
// Parsing is case-insensitive, so both "token_bucket" and "TOKEN_BUCKET" are accepted.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case algorithmTokenBucketText:
		return AlgorithmTokenBucket, nil
	case algorithmLeakyBucketText:
		return AlgorithmLeakyBucket, nil
	case algorithmFixedWindowText:
		return AlgorithmFixedWindow, nil
	case algorithmSlidingWindowLogText:
		return AlgorithmSlidingWindowLog, nil
	}
	return 0, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, s)
}

// IsValid reports whether the algorithm is one of the supported ones.
func (a Algorithm) IsValid() bool {
	return a >= AlgorithmTokenBucket && a <= AlgorithmSlidingWindowLog
}

// String returns a text form of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmTokenBucket:
		return algorithmTokenBucketText
	case AlgorithmLeakyBucket:
		return algorithmLeakyBucketText
	case AlgorithmFixedWindow:
		return algorithmFixedWindowText
	case AlgorithmSlidingWindowLog:
		return algorithmSlidingWindowLogText
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// MarshalText encodes the algorithm into its text form.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidConfig, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes the algorithm from its text form.
// Empty text is decoded to the zero value, so the default can be resolved by the caller.
func (a *Algorithm) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = 0
		return nil
	}
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// limiterState is a mutable state of a single key for one of the algorithms.
// decide must be called with non-decreasing now and under the owning entry's lock.
type limiterState interface {
	decide(now time.Time) (admit bool, retryAfter time.Duration)
}

func newLimiterState(cfg LimiterConfig) limiterState {
	switch cfg.Algorithm {
	case AlgorithmLeakyBucket:
		return newLeakyBucket(cfg.Capacity, cfg.Window)
	case AlgorithmFixedWindow:
		return newFixedWindow(cfg.Capacity, cfg.Window)
	case AlgorithmSlidingWindowLog:
		return newSlidingWindowLog(cfg.Capacity, cfg.Window)
	default:
		return newTokenBucket(cfg.Capacity, cfg.Window)
	}
}
