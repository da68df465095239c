/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

// Unit is a component of the service with its own lifecycle (HTTP server, admission sweeper, etc.).
type Unit interface {
	// Start runs the unit. It may return right after initialization or block while the unit works.
	// A fatal error is reported by sending it to fatalErr once, and the channel isn't used after Start returns.
	// Nothing is sent on success.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It's called even if Start failed or wasn't called at all.
	// If gracefully is true, the unit finishes its in-flight work before returning.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that own Prometheus metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
