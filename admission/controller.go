/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-admission/clock"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/service"
)

// sweeperStopTimeout limits how long the graceful stop waits for the in-flight sweep pass.
const sweeperStopTimeout = time.Second * 5

// Opts represents options for the Controller.
type Opts struct {
	// Clock is a time source, the system clock is used if it's nil.
	Clock clock.Clock

	// Logger is used by the sweeper, logging is disabled if it's nil.
	// Decisions are never logged.
	Logger log.FieldLogger

	// MetricsCollector collects metrics, they are disabled if it's nil.
	MetricsCollector MetricsCollector
}

// Controller is a per-key admission controller.
// It's safe for concurrent use, and several independent controllers may be used in the same process.
//
// Controller implements service.Unit: Start runs the periodic sweeper of idle keys
// and Stop stops it (and drains the registry if it's stopped gracefully).
type Controller struct {
	clock    clock.Clock
	metrics  MetricsCollector
	registry *Registry
	sweeper  *Sweeper

	sweeperUnit *service.WorkerUnit
	started     atomic.Bool
}

var _ service.Unit = (*Controller)(nil)

// New creates a new admission Controller.
// Default configuration is used if cfg is nil.
func New(cfg *Config, opts Opts) (*Controller, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	c := cfg.withDefaults()

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}

	registry, err := NewRegistry(RegistryOpts{
		ShardsNum:        c.ShardsNum,
		MaxKeys:          c.MaxKeys,
		MetricsCollector: opts.MetricsCollector,
	})
	if err != nil {
		return nil, fmt.Errorf("new registry: %w", err)
	}

	sweeper := NewSweeper(registry, RetentionPolicy{
		Fixed:            time.Duration(c.Sweep.Retention),
		Floor:            time.Duration(c.Sweep.RetentionFloor),
		WindowMultiplier: c.Sweep.RetentionWindowMultiplier,
	}, SweeperOpts{
		Clock:            opts.Clock,
		Logger:           opts.Logger,
		MetricsCollector: opts.MetricsCollector,
	})

	sweepInterval := time.Duration(c.Sweep.Interval)
	periodicSweeper := service.NewPeriodicWorkerWithOpts(sweeper, sweepInterval, opts.Logger,
		service.PeriodicWorkerOpts{InitialDelay: sweepInterval, Name: "admission_sweeper"})

	sweeperUnit := service.NewWorkerUnitWithOpts(periodicSweeper,
		service.WorkerUnitOpts{GracefulStopTimeout: sweeperStopTimeout})

	return &Controller{
		clock:       opts.Clock,
		metrics:     opts.MetricsCollector,
		registry:    registry,
		sweeper:     sweeper,
		sweeperUnit: sweeperUnit,
	}, nil
}

// TryAcquire decides whether a new request for the key may proceed.
// The key is bound to the passed capacity, window and algorithm on its first use,
// later calls with another configuration are decided by the bound one.
// Rejection is reported as false with nil error, error is returned only for invalid configuration
// (it wraps ErrInvalidConfig), and in this case the registry is not touched.
func (c *Controller) TryAcquire(key string, capacity int, window time.Duration, alg Algorithm) (bool, error) {
	d, err := c.Acquire(key, LimiterConfig{Capacity: capacity, Window: window, Algorithm: alg})
	if err != nil {
		return false, err
	}
	return d.Admitted, nil
}

// TryAcquireSeconds is the same as TryAcquire, but the window is specified in seconds.
func (c *Controller) TryAcquireSeconds(key string, capacity int, windowSeconds int64, alg Algorithm) (bool, error) {
	if windowSeconds <= 0 {
		return false, fmt.Errorf("%w: window should be > 0, got %d seconds", ErrInvalidConfig, windowSeconds)
	}
	if windowSeconds > math.MaxInt64/int64(time.Second) {
		return false, fmt.Errorf("%w: window is too large, got %d seconds", ErrInvalidConfig, windowSeconds)
	}
	return c.TryAcquire(key, capacity, time.Duration(windowSeconds)*time.Second, alg)
}

// Acquire decides whether a new request for the key may proceed and estimates when to retry a rejected one.
func (c *Controller) Acquire(key string, cfg LimiterConfig) (Decision, error) {
	if err := cfg.Validate(); err != nil {
		return Decision{}, err
	}

	e := c.registry.resolve(key, cfg, c.clock.Now())

	e.mu.Lock()
	// Time is read under the entry lock, so the state always observes non-decreasing time.
	now := c.clock.Now()
	admitted, retryAfter := e.state.decide(now)
	e.touch(now)
	e.mu.Unlock()

	c.metrics.IncDecisions(e.cfg.Algorithm, admitted)
	return Decision{Admitted: admitted, RetryAfter: retryAfter}, nil
}

// Start runs the periodic sweeper of idle keys and blocks until it's stopped.
// Implements service.Unit interface.
func (c *Controller) Start(fatalErr chan<- error) {
	c.started.Store(true)
	c.sweeperUnit.Start(fatalErr)
}

// Stop stops the periodic sweeper. If gracefully is true, it waits for the in-flight sweep pass
// and removes all keys from the registry.
// Implements service.Unit interface.
func (c *Controller) Stop(gracefully bool) error {
	err := c.sweeperUnit.Stop(gracefully && c.started.Load())
	if gracefully {
		c.registry.Purge()
	}
	return err
}

// Sweep performs a single sweep pass synchronously.
func (c *Controller) Sweep(ctx context.Context) error {
	return c.sweeper.Run(ctx)
}

// Retention returns the current idle time after which keys are removed.
func (c *Controller) Retention() time.Duration {
	return c.sweeper.Retention()
}

// Len returns the number of keys in the registry.
func (c *Controller) Len() int {
	return c.registry.Len()
}

// Contains reports whether the key is present in the registry.
func (c *Controller) Contains(key string) bool {
	return c.registry.Contains(key)
}

// BoundConfig returns the configuration the key is bound to.
func (c *Controller) BoundConfig(key string) (LimiterConfig, bool) {
	return c.registry.boundConfig(key)
}

// ConfigMismatches returns how many times a key was requested with a configuration
// different from the bound one.
func (c *Controller) ConfigMismatches() int64 {
	return c.registry.ConfigMismatches()
}
