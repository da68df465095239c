/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/service"
)

// HTTPServer represents a wrapper around http.Server which implements service.Unit interface.
type HTTPServer struct {
	HTTPServer      *http.Server
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	port           atomic.Int32
	httpServerDone atomic.Value
}

var _ service.Unit = (*HTTPServer)(nil)

// New creates a new HTTPServer that serves the passed handler.
// Typical use case: create a chi.Router using NewRouter and pass it here.
func New(cfg *Config, logger log.FieldLogger, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			WriteTimeout:      time.Duration(cfg.Timeouts.Write),
			ReadTimeout:       time.Duration(cfg.Timeouts.Read),
			ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
			IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
			Handler:           handler,
		},
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
	}
}

// Start starts application HTTP server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("idle_timeout", s.HTTPServer.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	logger.Info("starting application HTTP server...")

	listener, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
		return
	}

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err == nil {
		var port int64
		if port, err = strconv.ParseInt(portStr, 10, 32); err == nil {
			s.port.Store(int32(port))
		}
	}
	if err != nil {
		_ = listener.Close()
		logger.Error("unexpected format of TCP listener address", log.Error(err))
		fatalError <- err
		return
	}

	if err = s.HTTPServer.Serve(listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("application HTTP server closed")
			return
		}
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops application HTTP server (gracefully or not).
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing application HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("application HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("application HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *HTTPServer) waitDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done // Wait for the listener to be closed.
	}
}

// GetPort returns the port the server listens on, or 0 if it has not started yet.
// It's useful when the port is chosen dynamically (":0" address).
func (s *HTTPServer) GetPort() int {
	return int(s.port.Load())
}
