/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
)

// ErrWorkerUnitStopTimeoutExceeded is returned by WorkerUnit.Stop when the worker isn't finished in GracefulStopTimeout.
var ErrWorkerUnitStopTimeoutExceeded = errors.New("worker unit stop timeout exceeded")

// WorkerUnitOpts contains optional parameters for constructing WorkerUnit.
type WorkerUnitOpts struct {
	MetricsRegisterer MetricsRegisterer

	// GracefulStopTimeout limits waiting for the worker in Stop(true). Zero means no limit.
	GracefulStopTimeout time.Duration
}

// WorkerUnit presents Worker as Unit. The context passed to the worker is canceled on Stop.
type WorkerUnit struct {
	worker    Worker
	opts      WorkerUnitOpts
	ctx       context.Context
	ctxCancel context.CancelFunc
	started   atomic.Bool
	done      chan struct{}
}

var _ Unit = (*WorkerUnit)(nil)
var _ MetricsRegisterer = (*WorkerUnit)(nil)

// NewWorkerUnit creates a new instance of WorkerUnit.
func NewWorkerUnit(worker Worker) *WorkerUnit {
	return NewWorkerUnitWithOpts(worker, WorkerUnitOpts{})
}

// NewWorkerUnitWithOpts is a more configurable version of NewWorkerUnit.
func NewWorkerUnitWithOpts(worker Worker, opts WorkerUnitOpts) *WorkerUnit {
	ctx, ctxCancel := context.WithCancel(context.Background())
	return &WorkerUnit{worker: worker, opts: opts, ctx: ctx, ctxCancel: ctxCancel, done: make(chan struct{})}
}

// Start runs the underlying Worker and blocks until it's finished.
// The worker's error is sent to fatalError. Only the first call has an effect.
func (u *WorkerUnit) Start(fatalError chan<- error) {
	if !u.started.CompareAndSwap(false, true) {
		return
	}
	defer close(u.done)
	if err := u.worker.Run(u.ctx); err != nil {
		fatalError <- err
	}
}

// Stop cancels the worker's context. If gracefully is true, it also waits until the worker is finished.
func (u *WorkerUnit) Stop(gracefully bool) error {
	u.ctxCancel()
	if !gracefully || !u.started.Load() {
		return nil
	}
	if u.opts.GracefulStopTimeout <= 0 {
		<-u.done
		return nil
	}
	timer := time.NewTimer(u.opts.GracefulStopTimeout)
	defer timer.Stop()
	select {
	case <-u.done:
		return nil
	case <-timer.C:
		return ErrWorkerUnitStopTimeoutExceeded
	}
}

// MustRegisterMetrics registers the worker's metrics if MetricsRegisterer is specified.
func (u *WorkerUnit) MustRegisterMetrics() {
	if u.opts.MetricsRegisterer != nil {
		u.opts.MetricsRegisterer.MustRegisterMetrics()
	}
}

// UnregisterMetrics unregisters the worker's metrics if MetricsRegisterer is specified.
func (u *WorkerUnit) UnregisterMetrics() {
	if u.opts.MetricsRegisterer != nil {
		u.opts.MetricsRegisterer.UnregisterMetrics()
	}
}
