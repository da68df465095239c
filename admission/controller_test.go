/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/acronis/go-admission/clock"
)

type ControllerTestSuite struct {
	suite.Suite
	clock      *clock.Fake
	metrics    *PrometheusMetrics
	controller *Controller
}

func TestController(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func (s *ControllerTestSuite) SetupTest() {
	s.clock = clock.NewFake(testStart)
	s.metrics = NewPrometheusMetrics()
	var err error
	s.controller, err = New(nil, Opts{Clock: s.clock, MetricsCollector: s.metrics})
	s.Require().NoError(err)
}

func (s *ControllerTestSuite) TestTryAcquire_AllAlgorithms() {
	for _, alg := range []Algorithm{
		AlgorithmTokenBucket, AlgorithmLeakyBucket, AlgorithmFixedWindow, AlgorithmSlidingWindowLog,
	} {
		key := "client:" + alg.String()
		for i := 0; i < 3; i++ {
			admitted, err := s.controller.TryAcquire(key, 3, 10*time.Second, alg)
			s.Require().NoError(err)
			s.True(admitted, alg.String())
		}
		admitted, err := s.controller.TryAcquire(key, 3, 10*time.Second, alg)
		s.Require().NoError(err, "rejection is not an error")
		s.False(admitted, alg.String())

		s.Equal(3, int(testutil.ToFloat64(s.metrics.DecisionsTotal.WithLabelValues(alg.String(), "admitted"))))
		s.Equal(1, int(testutil.ToFloat64(s.metrics.DecisionsTotal.WithLabelValues(alg.String(), "rejected"))))
	}
	s.Equal(4, s.controller.Len())
}

func (s *ControllerTestSuite) TestTryAcquire_ConfigErrors() {
	tests := []struct {
		name     string
		capacity int
		window   time.Duration
		alg      Algorithm
	}{
		{name: "zero capacity", capacity: 0, window: 10 * time.Second, alg: AlgorithmTokenBucket},
		{name: "zero window", capacity: 5, window: 0, alg: AlgorithmTokenBucket},
		{name: "negative window", capacity: 5, window: -time.Second, alg: AlgorithmFixedWindow},
		{name: "unknown algorithm", capacity: 5, window: time.Second, alg: Algorithm(100)},
	}
	for _, tt := range tests {
		admitted, err := s.controller.TryAcquire("key", tt.capacity, tt.window, tt.alg)
		s.ErrorIs(err, ErrInvalidConfig, tt.name)
		s.False(admitted, tt.name)
	}
	s.False(s.controller.Contains("key"))
	s.Equal(0, s.controller.Len())
}

func (s *ControllerTestSuite) TestTryAcquireSeconds() {
	admitted, err := s.controller.TryAcquireSeconds("key", 1, 10, AlgorithmSlidingWindowLog)
	s.Require().NoError(err)
	s.True(admitted)

	cfg, ok := s.controller.BoundConfig("key")
	s.Require().True(ok)
	s.Equal(LimiterConfig{Capacity: 1, Window: 10 * time.Second, Algorithm: AlgorithmSlidingWindowLog}, cfg)

	_, err = s.controller.TryAcquireSeconds("key2", 5, 0, AlgorithmTokenBucket)
	s.ErrorIs(err, ErrInvalidConfig)

	_, err = s.controller.TryAcquireSeconds("key3", 5, 1<<62, AlgorithmTokenBucket)
	s.ErrorIs(err, ErrInvalidConfig)

	// Multiplying by time.Second would wrap these around to positive durations.
	for _, windowSeconds := range []int64{-1, -9223372037, math.MinInt64} {
		admitted, err = s.controller.TryAcquireSeconds("negative", 5, windowSeconds, AlgorithmTokenBucket)
		s.ErrorIs(err, ErrInvalidConfig)
		s.False(admitted)
	}
	s.False(s.controller.Contains("negative"))
	s.Equal(1, s.controller.Len())
}

func (s *ControllerTestSuite) TestAcquire_RetryAfter() {
	cfg := LimiterConfig{Capacity: 2, Window: 10 * time.Second, Algorithm: AlgorithmFixedWindow}
	for i := 0; i < 2; i++ {
		d, err := s.controller.Acquire("key", cfg)
		s.Require().NoError(err)
		s.Equal(Decision{Admitted: true}, d)
	}
	s.clock.Advance(4 * time.Second)
	d, err := s.controller.Acquire("key", cfg)
	s.Require().NoError(err)
	s.Equal(Decision{Admitted: false, RetryAfter: 6 * time.Second}, d)

	s.clock.Advance(6 * time.Second)
	d, err = s.controller.Acquire("key", cfg)
	s.Require().NoError(err)
	s.True(d.Admitted)
}

func (s *ControllerTestSuite) TestConfigMismatch_BoundConfigWins() {
	admitted, err := s.controller.TryAcquire("key", 1, time.Minute, AlgorithmFixedWindow)
	s.Require().NoError(err)
	s.True(admitted)

	// A bigger capacity for the same key doesn't replace the bound one.
	admitted, err = s.controller.TryAcquire("key", 100, time.Minute, AlgorithmTokenBucket)
	s.Require().NoError(err)
	s.False(admitted)

	cfg, ok := s.controller.BoundConfig("key")
	s.Require().True(ok)
	s.Equal(LimiterConfig{Capacity: 1, Window: time.Minute, Algorithm: AlgorithmFixedWindow}, cfg)
	s.Equal(int64(1), s.controller.ConfigMismatches())
	s.Equal(1, int(testutil.ToFloat64(s.metrics.ConfigMismatchTotal)))
	s.Equal(1, int(testutil.ToFloat64(s.metrics.DecisionsTotal.WithLabelValues("fixed_window", "rejected"))))

	// Same config is not a mismatch.
	_, err = s.controller.TryAcquire("key", 1, time.Minute, AlgorithmFixedWindow)
	s.Require().NoError(err)
	s.Equal(int64(1), s.controller.ConfigMismatches())
}

func (s *ControllerTestSuite) TestEviction_FreshStateAfterSweep() {
	admitted, err := s.controller.TryAcquire("idle", 1, 10*time.Second, AlgorithmTokenBucket)
	s.Require().NoError(err)
	s.True(admitted)
	admitted, err = s.controller.TryAcquire("idle", 1, 10*time.Second, AlgorithmTokenBucket)
	s.Require().NoError(err)
	s.False(admitted)

	s.Equal(time.Minute, s.controller.Retention(), "retention floor wins over 4 * 10s")

	s.clock.Advance(30 * time.Second)
	_, err = s.controller.TryAcquire("active", 1, 10*time.Second, AlgorithmTokenBucket)
	s.Require().NoError(err)

	s.clock.Advance(30*time.Second + time.Millisecond)
	s.Require().NoError(s.controller.Sweep(context.Background()))

	s.False(s.controller.Contains("idle"))
	s.True(s.controller.Contains("active"))
	s.Equal(1, int(testutil.ToFloat64(s.metrics.SweptEntriesTotal)))

	// The key was forgotten, so it starts again with full capacity.
	s.clock.Advance(time.Millisecond)
	admitted, err = s.controller.TryAcquire("idle", 1, 10*time.Second, AlgorithmSlidingWindowLog)
	s.Require().NoError(err)
	s.True(admitted)
	cfg, ok := s.controller.BoundConfig("idle")
	s.Require().True(ok)
	s.Equal(AlgorithmSlidingWindowLog, cfg.Algorithm)
}

func (s *ControllerTestSuite) TestRetention_GrowsWithWindows() {
	s.Equal(time.Minute, s.controller.Retention())

	_, err := s.controller.TryAcquire("a", 1, time.Minute, AlgorithmTokenBucket)
	s.Require().NoError(err)
	s.Equal(4*time.Minute, s.controller.Retention())

	_, err = s.controller.TryAcquire("b", 1, 30*time.Second, AlgorithmTokenBucket)
	s.Require().NoError(err)
	s.Equal(4*time.Minute, s.controller.Retention())
}

func (s *ControllerTestSuite) TestStopGracefully_DrainsRegistry() {
	_, err := s.controller.TryAcquire("key", 1, time.Second, AlgorithmTokenBucket)
	s.Require().NoError(err)

	fatalErr := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		s.controller.Start(fatalErr)
		close(done)
	}()
	s.Require().Eventually(func() bool { return s.controller.started.Load() }, time.Second, time.Millisecond)

	s.Require().NoError(s.controller.Stop(true))
	<-done
	s.Len(fatalErr, 0)
	s.Equal(0, s.controller.Len())
}

func (s *ControllerTestSuite) TestStop_WithoutStart() {
	_, err := s.controller.TryAcquire("key", 1, time.Second, AlgorithmTokenBucket)
	s.Require().NoError(err)
	s.Require().NoError(s.controller.Stop(true))
	s.Equal(0, s.controller.Len())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MaxKeys = -1
	_, err := New(cfg, Opts{})
	require.Error(t, err)
}

func TestController_ConcurrentCallersAdmitExactlyCapacity(t *testing.T) {
	const callers = 500
	for _, alg := range []Algorithm{
		AlgorithmTokenBucket, AlgorithmLeakyBucket, AlgorithmFixedWindow, AlgorithmSlidingWindowLog,
	} {
		alg := alg
		t.Run(alg.String(), func(t *testing.T) {
			for _, capacity := range []int{1, 7, 100} {
				// Frozen time makes the result independent of the interleaving.
				controller, err := New(nil, Opts{Clock: clock.NewFake(testStart)})
				require.NoError(t, err)

				var admitted, errs atomic.Int32
				start := make(chan struct{})
				var wg sync.WaitGroup
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						ok, err := controller.TryAcquire("hot-key", capacity, time.Hour, alg)
						if err != nil {
							errs.Inc()
							return
						}
						if ok {
							admitted.Inc()
						}
					}()
				}
				close(start)
				wg.Wait()

				require.Zero(t, errs.Load())
				require.Equal(t, int32(capacity), admitted.Load())
				require.Equal(t, 1, controller.Len())
			}
		})
	}
}

func TestController_ConcurrentFirstResolutionCreatesSingleEntry(t *testing.T) {
	const callers = 200
	metrics := NewPrometheusMetrics()
	controller, err := New(nil, Opts{Clock: clock.NewFake(testStart), MetricsCollector: metrics})
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Every caller proposes its own capacity, only one of them may be bound.
			_, _ = controller.TryAcquire("new-key", i+1, time.Minute, AlgorithmSlidingWindowLog)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, controller.Len())
	bound, ok := controller.BoundConfig("new-key")
	require.True(t, ok)
	require.Equal(t, int64(callers-1), controller.ConfigMismatches())

	created := 0
	for shard := 0; shard < DefaultShardsNum; shard++ {
		created += int(testutil.ToFloat64(metrics.Registry.MissesTotal.WithLabelValues(strconv.Itoa(shard))))
	}
	require.Equal(t, 1, created)

	// All callers have been decided by the bound configuration.
	admitted := int(testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("sliding_window_log", "admitted")))
	expected := bound.Capacity
	if expected > callers {
		expected = callers
	}
	require.Equal(t, expected, admitted)
}

func TestController_DifferentKeysAreIndependent(t *testing.T) {
	controller, err := New(nil, Opts{Clock: clock.NewFake(testStart)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "client-" + strconv.Itoa(i)
			for j := 0; j < 10; j++ {
				ok, err := controller.TryAcquire(key, 10, time.Minute, AlgorithmLeakyBucket)
				if err != nil || !ok {
					t.Errorf("key %s: request %d must be admitted (err: %v)", key, j, err)
				}
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 64, controller.Len())
}

func TestController_EvictionRacesWithDecisions(t *testing.T) {
	fakeClock := clock.NewFake(testStart)
	cfg := NewDefaultConfig()
	cfg.Sweep.Retention = 1 // every untouched entry is idle
	controller, err := New(cfg, Opts{Clock: fakeClock})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		for ctx.Err() == nil {
			fakeClock.Advance(time.Millisecond)
			if err := controller.Sweep(ctx); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_, err := controller.TryAcquire("key-"+strconv.Itoa(j%8), 5, time.Second, AlgorithmSlidingWindowLog)
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	cancel()
	<-sweeperDone
}

func TestController_SweepStopsOnCanceledContext(t *testing.T) {
	fakeClock := clock.NewFake(testStart)
	controller, err := New(nil, Opts{Clock: fakeClock})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err = controller.TryAcquire(strconv.Itoa(i), 1, time.Second, AlgorithmTokenBucket)
		require.NoError(t, err)
	}
	fakeClock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, controller.Sweep(ctx))
	require.Equal(t, 100, controller.Len())

	require.NoError(t, controller.Sweep(context.Background()))
	require.Equal(t, 0, controller.Len())
}

func TestErrInvalidConfig_IsDistinguishable(t *testing.T) {
	controller, err := New(nil, Opts{})
	require.NoError(t, err)
	_, err = controller.TryAcquire("key", 0, 10*time.Second, AlgorithmTokenBucket)
	require.True(t, errors.Is(err, ErrInvalidConfig))
	require.EqualError(t, err, "invalid limiter configuration: capacity should be > 0, got 0")
}
