/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector collects metrics of the cache usage.
type MetricsCollector interface {
	// SetAmount sets the current number of entries.
	SetAmount(int)
	// IncHits is called when the key is found.
	IncHits()
	// IncMisses is called when the key isn't found.
	IncMisses()
	// AddEvictions is called when entries are evicted because the cache is full.
	AddEvictions(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// ConstLabels are applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames are variable labels that must be curried by MustCurryWith
	// before the metrics are passed to the cache.
	CurriedLabelNames []string
}

// PrometheusMetrics is a MetricsCollector that exports cache usage to Prometheus.
type PrometheusMetrics struct {
	EntriesAmount  *prometheus.GaugeVec
	HitsTotal      *prometheus.CounterVec
	MissesTotal    *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Name: name, Help: help, ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames)
	}
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "cache_entries_amount",
			Help:        "Total number of entries in the cache.",
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames),
		HitsTotal:      counter("cache_hits_total", "Number of successfully found keys in the cache."),
		MissesTotal:    counter("cache_misses_total", "Number of not found keys in the cache."),
		EvictionsTotal: counter("cache_evictions_total", "Number of entries evicted because the cache is full."),
	}
}

// MustCurryWith returns metrics with the curried labels. It panics if labels don't match CurriedLabelNames.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		EntriesAmount:  pm.EntriesAmount.MustCurryWith(labels),
		HitsTotal:      pm.HitsTotal.MustCurryWith(labels),
		MissesTotal:    pm.MissesTotal.MustCurryWith(labels),
		EvictionsTotal: pm.EvictionsTotal.MustCurryWith(labels),
	}
}

func (pm *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{pm.EntriesAmount, pm.HitsTotal, pm.MissesTotal, pm.EvictionsTotal}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.collectors()...)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	for _, c := range pm.collectors() {
		prometheus.Unregister(c)
	}
}

// SetAmount implements MetricsCollector.
func (pm *PrometheusMetrics) SetAmount(amount int) {
	pm.EntriesAmount.With(nil).Set(float64(amount))
}

// IncHits implements MetricsCollector.
func (pm *PrometheusMetrics) IncHits() {
	pm.HitsTotal.With(nil).Inc()
}

// IncMisses implements MetricsCollector.
func (pm *PrometheusMetrics) IncMisses() {
	pm.MissesTotal.With(nil).Inc()
}

// AddEvictions implements MetricsCollector.
func (pm *PrometheusMetrics) AddEvictions(n int) {
	pm.EvictionsTotal.With(nil).Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)    {}
func (disabledMetrics) IncHits()         {}
func (disabledMetrics) IncMisses()       {}
func (disabledMetrics) AddEvictions(int) {}
