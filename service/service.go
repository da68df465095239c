/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-admission/log"
)

// Opts represents options for Service.
type Opts struct {
	// ShutdownSignals stop the service gracefully. SIGINT and SIGTERM are used if it's empty.
	ShutdownSignals []os.Signal
}

// Service runs a unit until the context is canceled, a shutdown signal is received
// or the unit reports a fatal error.
type Service struct {
	Unit    Unit
	Signals chan os.Signal
	Logger  log.FieldLogger
	Opts    Opts
}

// New creates a new Service that starts and stops the passed unit.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	if len(opts.ShutdownSignals) == 0 {
		opts.ShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Service{Unit: unit, Signals: make(chan os.Signal, 1), Logger: logger, Opts: opts}
}

// Start is the same as StartContext with the background context.
func (s *Service) Start() error {
	return s.StartContext(context.Background())
}

// StartContext registers the unit's metrics (if it implements MetricsRegisterer), starts the unit
// in a separate goroutine and blocks until the service should be finished.
func (s *Service) StartContext(ctx context.Context) error {
	if mr, ok := s.Unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}

	fatalError := make(chan error, 1)
	go s.Unit.Start(fatalError)

	signal.Notify(s.Signals, s.Opts.ShutdownSignals...)
	defer signal.Stop(s.Signals)

	select {
	case err := <-fatalError:
		s.Logger.Error("service fatal error", log.Error(err))
		return fmt.Errorf("fatal error: %w", err)
	case <-ctx.Done():
		s.Logger.Info("context is canceled, service will be stopped")
	case sig := <-s.Signals:
		s.Logger.Info("service got signal", log.String("signal", sig.String()))
	}

	if err := s.Unit.Stop(true); err != nil {
		return fmt.Errorf("stop service gracefully: %w", err)
	}
	return nil
}
