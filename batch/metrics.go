/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batch

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of batching metrics.
type MetricsCollector interface {
	// SetPendingBatches sets the current number of open batch windows.
	SetPendingBatches(int)

	// ObserveBatchSize observes the size of a successfully flushed batch.
	ObserveBatchSize(int)

	// IncFlushFailures increments the total number of wholesale flush failures.
	IncFlushFailures()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// BatchSizeBuckets is a list of buckets for the batch size histogram.
	// prometheus.LinearBuckets(1, 1, 10) is used if it's not specified.
	BatchSizeBuckets []float64
}

// PrometheusMetrics represents Prometheus metrics for the batcher.
type PrometheusMetrics struct {
	PendingBatches     prometheus.Gauge
	BatchSize          prometheus.Histogram
	FlushFailuresTotal prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	if opts.BatchSizeBuckets == nil {
		opts.BatchSizeBuckets = prometheus.LinearBuckets(1, 1, 10)
	}
	return &PrometheusMetrics{
		PendingBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_pending_batches",
			Help:        "Current number of open batch windows.",
			ConstLabels: opts.ConstLabels,
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_flushed_batch_size",
			Help:        "Size of flushed batches.",
			ConstLabels: opts.ConstLabels,
			Buckets:     opts.BatchSizeBuckets,
		}),
		FlushFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_flush_failures_total",
			Help:        "Number of wholesale batch flush failures.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.PendingBatches,
		pm.BatchSize,
		pm.FlushFailuresTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.PendingBatches)
	prometheus.Unregister(pm.BatchSize)
	prometheus.Unregister(pm.FlushFailuresTotal)
}

// SetPendingBatches sets the current number of open batch windows.
func (pm *PrometheusMetrics) SetPendingBatches(n int) {
	pm.PendingBatches.Set(float64(n))
}

// ObserveBatchSize observes the size of a successfully flushed batch.
func (pm *PrometheusMetrics) ObserveBatchSize(n int) {
	pm.BatchSize.Observe(float64(n))
}

// IncFlushFailures increments the total number of wholesale flush failures.
func (pm *PrometheusMetrics) IncFlushFailures() {
	pm.FlushFailuresTotal.Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetPendingBatches(int) {}
func (disabledMetrics) ObserveBatchSize(int)  {}
func (disabledMetrics) IncFlushFailures()     {}

var disabledMetricsCollector = disabledMetrics{}
