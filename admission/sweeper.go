/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"math"
	"time"

	"github.com/acronis/go-admission/clock"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/service"
)

// RetentionPolicy determines how long a key may stay idle before it's removed from the registry.
type RetentionPolicy struct {
	// Fixed is used as is when it's positive.
	Fixed time.Duration
	// Floor is a lower bound of the retention derived from windows.
	Floor time.Duration
	// WindowMultiplier is applied to the longest window among bound configurations.
	WindowMultiplier int
}

// Retention returns the idle time after which the key is removed.
func (p RetentionPolicy) Retention(maxWindowSeen time.Duration) time.Duration {
	if p.Fixed > 0 {
		return p.Fixed
	}
	if p.WindowMultiplier > 0 && maxWindowSeen > math.MaxInt64/time.Duration(p.WindowMultiplier) {
		return math.MaxInt64
	}
	retention := maxWindowSeen * time.Duration(p.WindowMultiplier)
	if retention < p.Floor {
		return p.Floor
	}
	return retention
}

// Sweeper removes registry entries that have been idle longer than the retention.
// Single Run call is a single pass over all registry shards,
// service.PeriodicWorker is used for running it periodically.
type Sweeper struct {
	registry *Registry
	policy   RetentionPolicy
	clock    clock.Clock
	logger   log.FieldLogger
	metrics  MetricsCollector
}

var _ service.Worker = (*Sweeper)(nil)

// SweeperOpts represents options for the Sweeper.
type SweeperOpts struct {
	Clock            clock.Clock
	Logger           log.FieldLogger
	MetricsCollector MetricsCollector
}

// NewSweeper creates a new Sweeper.
func NewSweeper(registry *Registry, policy RetentionPolicy, opts SweeperOpts) *Sweeper {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	return &Sweeper{
		registry: registry,
		policy:   policy,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.MetricsCollector,
	}
}

// Retention returns the current retention.
// It may grow over time when keys with longer windows are bound.
func (s *Sweeper) Retention() time.Duration {
	return s.policy.Retention(s.registry.MaxWindowSeen())
}

// Run performs a single sweep pass. Implements service.Worker interface.
// Context is checked between shards, the pass is stopped early if it's canceled.
// Entries that are locked by an in-flight decision are skipped until the next pass.
func (s *Sweeper) Run(ctx context.Context) error {
	startTime := time.Now()
	retention := s.Retention()

	swept := 0
	for i := 0; i < s.registry.shardsNum(); i++ {
		if ctx.Err() != nil {
			break
		}
		swept += s.registry.sweepShard(i, s.clock.Now(), retention)
	}

	elapsed := time.Since(startTime)
	s.metrics.AddSweptEntries(swept)
	s.metrics.ObserveSweepDuration(elapsed)
	s.logger.Debug("idle keys sweep pass finished",
		log.Int("swept", swept),
		log.Int("remaining", s.registry.Len()),
		log.Duration("retention", retention),
		log.Duration("duration", elapsed),
	)
	return nil
}
