/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// admission-demo is an HTTP service whose endpoints are protected by the per-key admission controller.
// Rules are configured in config.yml, every variable may be overridden by the ADMISSION_DEMO_ prefixed
// environment variable (e.g. ADMISSION_DEMO_SERVER_ADDRESS=":9090").
//
//	$ go run ./cmd/admission-demo
//	$ curl -i localhost:8080/api/v1/ping
//	$ curl -i -H 'X-Tenant-ID: acme' localhost:8080/api/v1/reports
package main

import (
	"context"
	"fmt"
	golog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-admission/admission"
	"github.com/acronis/go-admission/config"
	"github.com/acronis/go-admission/httpserver"
	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/service"
)

const (
	errorDomain      = "AdmissionDemo"
	metricsNamespace = "admission_demo"
)

func main() {
	if err := runApp(); err != nil {
		golog.Fatal(err)
	}
}

func runApp() error {
	cfg, err := loadAppConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	admissionMetrics := admission.NewPrometheusMetricsWithOpts(admission.PrometheusMetricsOpts{Namespace: metricsNamespace})
	admissionMetrics.MustRegister()
	defer admissionMetrics.Unregister()

	rateLimitedMetrics := middleware.NewRateLimitedPrometheusMetrics(metricsNamespace)
	rateLimitedMetrics.MustRegister()
	defer rateLimitedMetrics.Unregister()

	restapi.MustInitAndRegisterMetrics(metricsNamespace)
	defer restapi.UnregisterMetrics()

	controller, err := admission.New(cfg.Admission, admission.Opts{
		Logger:           logger.With(log.String("component", "admission")),
		MetricsCollector: admissionMetrics,
	})
	if err != nil {
		return fmt.Errorf("create admission controller: %w", err)
	}

	router, err := makeRouter(cfg, controller, rateLimitedMetrics, logger)
	if err != nil {
		return err
	}
	httpServer := httpserver.New(cfg.Server, logger, router)

	return service.New(logger, service.NewCompositeUnit(httpServer, controller)).Start()
}

func makeRouter(
	cfg *AppConfig, controller *admission.Controller, metrics middleware.RateLimitedMetricsCollector, logger log.FieldLogger,
) (chi.Router, error) {
	rateLimitedOpts := middleware.RateLimitedOpts{MetricsCollector: metrics}
	rateLimited := func(rule string) (func(http.Handler) http.Handler, error) {
		mw, err := cfg.RateLimits.Middleware(rule, controller, errorDomain, rateLimitedOpts)
		if err != nil {
			return nil, fmt.Errorf("create middleware for %q rule: %w", rule, err)
		}
		return mw, nil
	}

	pingMw, err := rateLimited("ping")
	if err != nil {
		return nil, err
	}
	ordersMw, err := rateLimited("orders")
	if err != nil {
		return nil, err
	}
	reportsMw, err := rateLimited("reports")
	if err != nil {
		return nil, err
	}

	// The limit of the export endpoint is declared in code, token bucket is used by default.
	exportOpts := rateLimitedOpts
	exportOpts.Rule = "export"
	exportMw, err := middleware.RateLimitedMiddleware(controller,
		middleware.RateLimited{Capacity: 3, Window: time.Minute}, errorDomain, exportOpts)
	if err != nil {
		return nil, fmt.Errorf("create middleware for export endpoint: %w", err)
	}

	return httpserver.NewRouter(logger, httpserver.RouterOpts{
		ErrorDomain: errorDomain,
		Log:         cfg.Server.Log,
		HealthCheck: func(ctx context.Context) (httpserver.HealthCheckResult, error) {
			return httpserver.HealthCheckResult{"admission": httpserver.HealthCheckStatusOK}, ctx.Err()
		},
		Routes: func(router chi.Router) {
			router.Route("/api/v1", func(router chi.Router) {
				router.With(pingMw).Get("/ping", pingHandler)
				router.With(ordersMw).Get("/orders/{id}", getOrderHandler)
				router.With(reportsMw).Get("/reports", listReportsHandler)
				router.With(exportMw).Post("/export", exportHandler)
			})
		},
	}), nil
}

func pingHandler(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, map[string]string{"message": "pong"}, middleware.GetLoggerFromContext(r.Context()))
}

func getOrderHandler(rw http.ResponseWriter, r *http.Request) {
	respData := map[string]string{"id": chi.URLParam(r, "id"), "status": "shipped"}
	restapi.RespondJSON(rw, respData, middleware.GetLoggerFromContext(r.Context()))
}

func listReportsHandler(rw http.ResponseWriter, r *http.Request) {
	respData := map[string]interface{}{"tenant": r.Header.Get("X-Tenant-ID"), "reports": []string{"daily", "weekly"}}
	restapi.RespondJSON(rw, respData, middleware.GetLoggerFromContext(r.Context()))
}

func exportHandler(rw http.ResponseWriter, r *http.Request) {
	respData := map[string]string{"status": "scheduled"}
	if info, ok := middleware.GetAdmissionInfoFromContext(r.Context()); ok {
		respData["admissionKey"] = info.Key
	}
	restapi.RespondCodeAndJSON(rw, http.StatusAccepted, respData, middleware.GetLoggerFromContext(r.Context()))
}

func loadAppConfig() (*AppConfig, error) {
	cfgLoader := config.NewDefaultLoader("admission_demo")
	cfg := NewAppConfig()
	err := cfgLoader.LoadFromFile("config.yml", config.DataTypeYAML, cfg)
	return cfg, err
}

// AppConfig is the configuration of the demo service.
type AppConfig struct {
	Server     *httpserver.Config
	Log        *log.Config
	Admission  *admission.Config
	RateLimits *middleware.RateLimitedConfig
}

// NewAppConfig creates a new AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server:     httpserver.NewConfig(),
		Log:        log.NewConfig(),
		Admission:  admission.NewConfig(),
		RateLimits: middleware.NewRateLimitedConfig(),
	}
}

// SetProviderDefaults is part of config.Config interface implementation.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set is part of config.Config interface implementation.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}
