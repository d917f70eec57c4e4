/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of the limiter metrics.
type MetricsCollector interface {
	// SetAvailableTokens sets the current number of tokens in the bucket.
	SetAvailableTokens(float64)

	// SetQueueLength sets the current number of queued callers.
	SetQueueLength(int)

	// IncAcquired increments the total number of admitted calls.
	IncAcquired()

	// IncWaitTimeouts increments the total number of callers that gave up waiting.
	IncWaitTimeouts()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for the limiter.
type PrometheusMetrics struct {
	AvailableTokens   *prometheus.GaugeVec
	QueueLength       *prometheus.GaugeVec
	AcquiredTotal     *prometheus.CounterVec
	WaitTimeoutsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	availableTokens := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_available_tokens",
			Help:        "Current number of tokens in the admission bucket.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	queueLength := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_queue_length",
			Help:        "Current number of callers waiting for an admission token.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	acquiredTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_acquired_total",
			Help:        "Total number of admitted calls.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	waitTimeoutsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_wait_timeouts_total",
			Help:        "Total number of callers that gave up waiting for a token.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	return &PrometheusMetrics{
		AvailableTokens:   availableTokens,
		QueueLength:       queueLength,
		AcquiredTotal:     acquiredTotal,
		WaitTimeoutsTotal: waitTimeoutsTotal,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		AvailableTokens:   pm.AvailableTokens.MustCurryWith(labels),
		QueueLength:       pm.QueueLength.MustCurryWith(labels),
		AcquiredTotal:     pm.AcquiredTotal.MustCurryWith(labels),
		WaitTimeoutsTotal: pm.WaitTimeoutsTotal.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.AvailableTokens,
		pm.QueueLength,
		pm.AcquiredTotal,
		pm.WaitTimeoutsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.AvailableTokens)
	prometheus.Unregister(pm.QueueLength)
	prometheus.Unregister(pm.AcquiredTotal)
	prometheus.Unregister(pm.WaitTimeoutsTotal)
}

// SetAvailableTokens sets the current number of tokens in the bucket.
func (pm *PrometheusMetrics) SetAvailableTokens(tokens float64) {
	pm.AvailableTokens.With(nil).Set(tokens)
}

// SetQueueLength sets the current number of queued callers.
func (pm *PrometheusMetrics) SetQueueLength(n int) {
	pm.QueueLength.With(nil).Set(float64(n))
}

// IncAcquired increments the total number of admitted calls.
func (pm *PrometheusMetrics) IncAcquired() {
	pm.AcquiredTotal.With(nil).Inc()
}

// IncWaitTimeouts increments the total number of callers that gave up waiting.
func (pm *PrometheusMetrics) IncWaitTimeouts() {
	pm.WaitTimeoutsTotal.With(nil).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetAvailableTokens(float64) {}
func (disabledMetrics) SetQueueLength(int)        {}
func (disabledMetrics) IncAcquired()              {}
func (disabledMetrics) IncWaitTimeouts()          {}

var disabledMetricsCollector = disabledMetrics{}
