/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-admission/internal/libinfo"
	"github.com/acronis/go-admission/lrucache"
)

const (
	metricsLabelAlgorithm = "algorithm"
	metricsLabelResult    = "result"
	metricsLabelShard     = "shard"
)

const (
	decisionResultAdmitted = "admitted"
	decisionResultRejected = "rejected"
)

// DefaultSweepDurationBuckets is default buckets into which observations of sweep passes are counted.
var DefaultSweepDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// MetricsCollector represents a collector of metrics for the admission controller.
type MetricsCollector interface {
	// IncDecisions increments the number of decisions made with the algorithm.
	IncDecisions(alg Algorithm, admitted bool)

	// IncConfigMismatches increments the number of calls with a configuration that differs from the bound one.
	IncConfigMismatches()

	// AddSweptEntries increments the number of entries removed by the sweeper.
	AddSweptEntries(n int)

	// ObserveSweepDuration observes the duration of a single sweep pass.
	ObserveSweepDuration(d time.Duration)

	// RegistryShardMetrics returns a metrics collector for the registry shard storage.
	// Nil means that metrics for the shard are disabled.
	RegistryShardMetrics(shard int) lrucache.MetricsCollector
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// SweepDurationBuckets is a list of buckets into which observations of sweep passes are counted.
	SweepDurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the admission controller.
type PrometheusMetrics struct {
	DecisionsTotal       *prometheus.CounterVec
	ConfigMismatchTotal  prometheus.Counter
	SweptEntriesTotal    prometheus.Counter
	SweepDurationSeconds prometheus.Histogram
	Registry             *lrucache.PrometheusMetrics
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	opts.ConstLabels = libinfo.AddPrometheusLibVersionLabel(opts.ConstLabels)

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_decisions_total",
			Help:        "Number of admission decisions.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{metricsLabelAlgorithm, metricsLabelResult},
	)

	configMismatchesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_config_mismatches_total",
			Help:        "Number of admission calls with a configuration different from the one bound to the key.",
			ConstLabels: opts.ConstLabels,
		},
	)

	sweptEntriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_swept_entries_total",
			Help:        "Number of idle keys removed by the sweeper.",
			ConstLabels: opts.ConstLabels,
		},
	)

	sweepBuckets := opts.SweepDurationBuckets
	if sweepBuckets == nil {
		sweepBuckets = DefaultSweepDurationBuckets
	}
	sweepDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_sweep_duration_seconds",
			Help:        "A histogram of the sweep pass durations.",
			Buckets:     sweepBuckets,
			ConstLabels: opts.ConstLabels,
		},
	)

	registryNamespace := "admission_registry"
	if opts.Namespace != "" {
		registryNamespace = opts.Namespace + "_" + registryNamespace
	}
	registry := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace:         registryNamespace,
		ConstLabels:       opts.ConstLabels,
		CurriedLabelNames: []string{metricsLabelShard},
	})

	return &PrometheusMetrics{
		DecisionsTotal:       decisionsTotal,
		ConfigMismatchTotal:  configMismatchesTotal,
		SweptEntriesTotal:    sweptEntriesTotal,
		SweepDurationSeconds: sweepDuration,
		Registry:             registry,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.DecisionsTotal,
		pm.ConfigMismatchTotal,
		pm.SweptEntriesTotal,
		pm.SweepDurationSeconds,
	)
	pm.Registry.MustRegister()
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.DecisionsTotal)
	prometheus.Unregister(pm.ConfigMismatchTotal)
	prometheus.Unregister(pm.SweptEntriesTotal)
	prometheus.Unregister(pm.SweepDurationSeconds)
	pm.Registry.Unregister()
}

// IncDecisions increments the number of decisions made with the algorithm.
func (pm *PrometheusMetrics) IncDecisions(alg Algorithm, admitted bool) {
	result := decisionResultRejected
	if admitted {
		result = decisionResultAdmitted
	}
	pm.DecisionsTotal.WithLabelValues(alg.String(), result).Inc()
}

// IncConfigMismatches increments the number of calls with a configuration that differs from the bound one.
func (pm *PrometheusMetrics) IncConfigMismatches() {
	pm.ConfigMismatchTotal.Inc()
}

// AddSweptEntries increments the number of entries removed by the sweeper.
func (pm *PrometheusMetrics) AddSweptEntries(n int) {
	pm.SweptEntriesTotal.Add(float64(n))
}

// ObserveSweepDuration observes the duration of a single sweep pass.
func (pm *PrometheusMetrics) ObserveSweepDuration(d time.Duration) {
	pm.SweepDurationSeconds.Observe(d.Seconds())
}

// RegistryShardMetrics returns a metrics collector for the registry shard storage.
func (pm *PrometheusMetrics) RegistryShardMetrics(shard int) lrucache.MetricsCollector {
	return pm.Registry.MustCurryWith(prometheus.Labels{metricsLabelShard: strconv.Itoa(shard)})
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(Algorithm, bool)                       {}
func (disabledMetrics) IncConfigMismatches()                               {}
func (disabledMetrics) AddSweptEntries(int)                                {}
func (disabledMetrics) ObserveSweepDuration(time.Duration)                 {}
func (disabledMetrics) RegistryShardMetrics(int) lrucache.MetricsCollector { return nil }
