/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/acronis/go-admission/log"
)

// ErrPeriodicWorkerStop may be returned by the worker to finish the PeriodicWorker's loop without error.
var ErrPeriodicWorkerStop = errors.New("stop periodic worker error")

// Worker performs some work until it's done or ctx is canceled.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc is an adapter to allow the use of ordinary functions as Worker.
type WorkerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// PeriodicWorkerOpts contains optional parameters for constructing PeriodicWorker.
type PeriodicWorkerOpts struct {
	// InitialDelay is a delay before the first run. Zero means the worker is run immediately.
	InitialDelay time.Duration

	// IntervalDelayFunc returns a delay before the next run using the result of the previous one.
	// The constant interval is used if it's nil.
	IntervalDelayFunc func(worker Worker, err error) time.Duration

	// Name is added to all log messages as the "worker" field.
	Name string
}

// PeriodicWorker runs the underlying worker again and again with delays between runs.
// Errors of single runs are logged and don't stop the loop.
type PeriodicWorker struct {
	worker   Worker
	interval time.Duration
	logger   log.FieldLogger
	opts     PeriodicWorkerOpts
}

// NewPeriodicWorker creates a new instance of PeriodicWorker with the constant interval between runs.
func NewPeriodicWorker(worker Worker, interval time.Duration, logger log.FieldLogger) *PeriodicWorker {
	return NewPeriodicWorkerWithOpts(worker, interval, logger, PeriodicWorkerOpts{})
}

// NewPeriodicWorkerWithOpts is a more configurable version of NewPeriodicWorker.
func NewPeriodicWorkerWithOpts(
	worker Worker, interval time.Duration, logger log.FieldLogger, opts PeriodicWorkerOpts,
) *PeriodicWorker {
	if opts.Name != "" {
		logger = logger.With(log.String("worker", opts.Name))
	}
	return &PeriodicWorker{worker: worker, interval: interval, logger: logger, opts: opts}
}

// Run executes the loop until ctx is canceled or the worker returns ErrPeriodicWorkerStop.
func (pw *PeriodicWorker) Run(ctx context.Context) error {
	defer pw.logPanic()

	pw.logger.Infof("running periodic worker (initialDelay=%s, intervalDelay=%s)...", pw.opts.InitialDelay, pw.interval)

	delay := pw.opts.InitialDelay
	for {
		if !sleepWithContext(ctx, delay) {
			pw.logger.Info("periodic worker stopped successfully")
			return nil
		}

		err := pw.worker.Run(ctx)
		if errors.Is(err, ErrPeriodicWorkerStop) {
			pw.logger.Info("periodic worker stopped by the worker itself")
			return nil
		}
		if err != nil {
			pw.logger.Error("periodically running worker finished with error", log.Error(err))
		}
		delay = pw.nextDelay(err)
	}
}

func (pw *PeriodicWorker) nextDelay(runErr error) time.Duration {
	if pw.opts.IntervalDelayFunc == nil {
		return pw.interval
	}
	return pw.opts.IntervalDelayFunc(pw.worker, runErr)
}

func (pw *PeriodicWorker) logPanic() {
	p := recover()
	if p == nil {
		return
	}
	const logStackSize = 8192
	stack := make([]byte, logStackSize)
	stack = stack[:runtime.Stack(stack, false)]
	pw.logger.Error(fmt.Sprintf("panic in periodic worker: %+v", p), log.Bytes("stack", stack))
	panic(p)
}

// sleepWithContext returns false if ctx is done before d elapses.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
