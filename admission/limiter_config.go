/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"time"
)

// LimiterConfig is an immutable configuration that is bound to a key on its first use.
type LimiterConfig struct {
	// Capacity is the maximum number of requests admitted per Window.
	Capacity int
	// Window is the period over which Capacity is enforced.
	Window time.Duration
	// Algorithm is the admission algorithm.
	Algorithm Algorithm
}

// Validate checks that the configuration may be bound to a key.
// Returned error wraps ErrInvalidConfig.
func (c LimiterConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity should be > 0, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window should be > 0, got %s", ErrInvalidConfig, c.Window)
	}
	if !c.Algorithm.IsValid() {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm.String())
	}
	return nil
}

// rate returns the number of requests per second the configuration allows on average.
func (c LimiterConfig) rate() float64 {
	return float64(c.Capacity) / c.Window.Seconds()
}

// Decision is a result of the admission check.
type Decision struct {
	// Admitted is true if the request may proceed.
	Admitted bool
	// RetryAfter is an estimated time after which the request may be admitted.
	// It's always zero for admitted requests.
	RetryAfter time.Duration
}
