/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
)

// systemEndpoints are not logged unless they fail.
var systemEndpoints = []string{"/metrics", "/healthz"}

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	// ErrorDomain is used for error response formatting.
	ErrorDomain string
	// Log contains logging options of the request logging middleware.
	Log LogConfig
	// HealthCheck is called by the /healthz endpoint.
	HealthCheck HealthCheck
	// MetricsHandler serves the /metrics endpoint. promhttp.Handler is used if not set.
	MetricsHandler http.Handler
	// Routes registers application routes.
	Routes func(router chi.Router)
}

// NewRouter creates a new chi.Router with request id, logging and panic recovery middlewares,
// health-check and metrics endpoints.
// Admission is attached per route (see middleware.RateLimitedConfig.Middleware) so the route pattern is known.
func NewRouter(logger log.FieldLogger, opts RouterOpts) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID())
	router.Use(middleware.LoggingWithOpts(logger, middleware.LoggingOpts{
		RequestStart:      opts.Log.RequestStart,
		ExcludedEndpoints: append(append([]string(nil), systemEndpoints...), opts.Log.ExcludedEndpoints...),
	}))
	router.Use(middleware.Recovery(opts.ErrorDomain))

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck))

	if opts.Routes != nil {
		opts.Routes(router)
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, middleware.GetLoggerFromContext(r.Context()))
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewErrorFromStatus(opts.ErrorDomain, http.StatusMethodNotAllowed, "Method not allowed.")
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, middleware.GetLoggerFromContext(r.Context()))
	})

	return router
}
