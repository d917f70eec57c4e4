/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dedup

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics to analyze how (effectively or not) deduplication works.
type MetricsCollector interface {
	// SetCacheSize sets the total number of cached results.
	SetCacheSize(int)

	// IncCacheHits increments the total number of calls served from the result cache.
	IncCacheHits()

	// IncCacheMisses increments the total number of calls that started a fresh execution.
	IncCacheMisses()

	// IncCoalesced increments the total number of calls attached to an already in-flight execution.
	IncCoalesced()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the deduplicator.
type PrometheusMetrics struct {
	CacheSize      prometheus.Gauge
	CacheHitsTotal prometheus.Counter
	MissesTotal    prometheus.Counter
	CoalescedTotal prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_cache_entries_amount",
			Help:        "Total number of cached results.",
			ConstLabels: opts.ConstLabels,
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_cache_hits_total",
			Help:        "Number of calls served from the result cache.",
			ConstLabels: opts.ConstLabels,
		}),
		MissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_cache_misses_total",
			Help:        "Number of calls that started a fresh execution.",
			ConstLabels: opts.ConstLabels,
		}),
		CoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_coalesced_calls_total",
			Help:        "Number of calls attached to an already in-flight execution.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.CacheSize,
		pm.CacheHitsTotal,
		pm.MissesTotal,
		pm.CoalescedTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.CacheSize)
	prometheus.Unregister(pm.CacheHitsTotal)
	prometheus.Unregister(pm.MissesTotal)
	prometheus.Unregister(pm.CoalescedTotal)
}

// SetCacheSize sets the total number of cached results.
func (pm *PrometheusMetrics) SetCacheSize(n int) {
	pm.CacheSize.Set(float64(n))
}

// IncCacheHits increments the total number of calls served from the result cache.
func (pm *PrometheusMetrics) IncCacheHits() {
	pm.CacheHitsTotal.Inc()
}

// IncCacheMisses increments the total number of calls that started a fresh execution.
func (pm *PrometheusMetrics) IncCacheMisses() {
	pm.MissesTotal.Inc()
}

// IncCoalesced increments the total number of calls attached to an already in-flight execution.
func (pm *PrometheusMetrics) IncCoalesced() {
	pm.CoalescedTotal.Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetCacheSize(int) {}
func (disabledMetrics) IncCacheHits()    {}
func (disabledMetrics) IncCacheMisses()  {}
func (disabledMetrics) IncCoalesced()    {}

var disabledMetricsCollector = disabledMetrics{}
