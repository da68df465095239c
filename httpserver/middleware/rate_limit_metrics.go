/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelRule   = "rule"
	metricsLabelDryRun = "dry_run"

	metricsValYes = "yes"
	metricsValNo  = "no"
)

// RateLimitedMetricsCollector collects metrics of RateLimited middleware.
type RateLimitedMetricsCollector interface {
	IncRejects(rule string, dryRun bool)
}

// RateLimitedPrometheusMetrics is a Prometheus implementation of RateLimitedMetricsCollector.
type RateLimitedPrometheusMetrics struct {
	Rejects *prometheus.CounterVec
}

// NewRateLimitedPrometheusMetrics creates a new instance of RateLimitedPrometheusMetrics.
func NewRateLimitedPrometheusMetrics(namespace string) *RateLimitedPrometheusMetrics {
	return &RateLimitedPrometheusMetrics{
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_rejects_total",
			Help:      "Number of HTTP requests not admitted by the rate limited middleware.",
		}, []string{metricsLabelRule, metricsLabelDryRun}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *RateLimitedPrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Rejects)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *RateLimitedPrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Rejects)
}

// IncRejects increments the counter of rejected requests.
func (pm *RateLimitedPrometheusMetrics) IncRejects(rule string, dryRun bool) {
	dryRunVal := metricsValNo
	if dryRun {
		dryRunVal = metricsValYes
	}
	pm.Rejects.With(prometheus.Labels{metricsLabelRule: rule, metricsLabelDryRun: dryRunVal}).Inc()
}

type disabledRateLimitedMetrics struct{}

func (disabledRateLimitedMetrics) IncRejects(string, bool) {}
