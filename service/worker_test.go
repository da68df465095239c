/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/log/logtest"
)

func runInBackground(ctx context.Context, w Worker) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()
	return done
}

func TestPeriodicWorker_Run(t *testing.T) {
	t.Run("stopped by context", func(t *testing.T) {
		var sweeps atomic.Int32
		sweeper := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			sweeps.Inc()
			return nil
		}), time.Millisecond*20, log.NewDisabledLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := runInBackground(ctx, sweeper)
		require.Eventually(t, func() bool { return sweeps.Load() >= 3 }, time.Second*3, time.Millisecond*5)
		cancel()
		require.NoError(t, <-done)

		sweepsAfterStop := sweeps.Load()
		time.Sleep(time.Millisecond * 60)
		require.Equal(t, sweepsAfterStop, sweeps.Load())
	})

	t.Run("stopped by worker", func(t *testing.T) {
		sweeps := 0
		sweeper := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			sweeps++
			if sweeps == 3 {
				return ErrPeriodicWorkerStop
			}
			return nil
		}), time.Millisecond, log.NewDisabledLogger())

		require.NoError(t, <-runInBackground(context.Background(), sweeper))
		require.Equal(t, 3, sweeps)
	})

	t.Run("context is already canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sweeper := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			return errors.New("must not be called")
		}), time.Millisecond, log.NewDisabledLogger())
		require.NoError(t, sweeper.Run(ctx))
	})

	t.Run("initial delay", func(t *testing.T) {
		var firstRunAt atomic.Time
		sweeper := NewPeriodicWorkerWithOpts(WorkerFunc(func(ctx context.Context) error {
			firstRunAt.Store(time.Now())
			return ErrPeriodicWorkerStop
		}), time.Millisecond, log.NewDisabledLogger(), PeriodicWorkerOpts{InitialDelay: time.Millisecond * 200})

		startedAt := time.Now()
		require.NoError(t, <-runInBackground(context.Background(), sweeper))
		require.GreaterOrEqual(t, firstRunAt.Load().Sub(startedAt), time.Millisecond*200)
	})

	t.Run("errors are logged and delay is calculated from them", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		var delayErrs []error
		runs := 0
		sweeper := NewPeriodicWorkerWithOpts(WorkerFunc(func(ctx context.Context) error {
			runs++
			switch runs {
			case 1:
				return errors.New("registry is busy")
			case 2:
				return nil
			default:
				return ErrPeriodicWorkerStop
			}
		}), time.Hour, logRecorder, PeriodicWorkerOpts{
			Name: "admission_sweeper",
			IntervalDelayFunc: func(_ Worker, err error) time.Duration {
				delayErrs = append(delayErrs, err)
				return time.Millisecond
			},
		})

		require.NoError(t, <-runInBackground(context.Background(), sweeper))
		require.Equal(t, 3, runs)
		require.Len(t, delayErrs, 2)
		require.EqualError(t, delayErrs[0], "registry is busy")
		require.NoError(t, delayErrs[1])

		entry, found := logRecorder.FindEntry("periodically running worker finished with error")
		require.True(t, found)
		loggedErr, found := entry.FindField("error")
		require.True(t, found)
		require.EqualError(t, loggedErr.Any.(error), "registry is busy")
		workerName, found := entry.FindField("worker")
		require.True(t, found)
		require.Equal(t, "admission_sweeper", string(workerName.Bytes))
	})

	t.Run("panic is logged and propagated", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		sweeper := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			panic("corrupted state")
		}), time.Millisecond, logRecorder)

		require.PanicsWithValue(t, "corrupted state", func() {
			_ = sweeper.Run(context.Background())
		})
		_, found := logRecorder.FindEntry("panic in periodic worker: corrupted state")
		require.True(t, found)
	})
}
