/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package apiguard

import "github.com/acronis/go-apiguard/admission"

// Stats is an aggregated read-only snapshot of the resilience layer utilization.
type Stats struct {
	AvailableTokens float64
	Capacity        int
	QueueLength     int
	CacheSize       int
	PendingBatches  int
}

// CacheLenReporter reports the number of entries in a result cache.
// It's satisfied by any dedup.Deduplicator instantiation.
type CacheLenReporter interface {
	Len() int
}

// PendingBatchesReporter reports the number of open batch windows.
// It's satisfied by any batch.Batcher instantiation.
type PendingBatchesReporter interface {
	PendingBatches() int
}

// StatsReporter aggregates utilization snapshots from the resilience components
// for observability purposes. All fields are optional.
type StatsReporter struct {
	Limiter  *admission.Limiter
	Caches   []CacheLenReporter
	Batchers []PendingBatchesReporter
}

// Gather returns an aggregated snapshot of the current utilization.
func (r *StatsReporter) Gather() Stats {
	var stats Stats
	if r.Limiter != nil {
		limiterStats := r.Limiter.Stats()
		stats.AvailableTokens = limiterStats.AvailableTokens
		stats.Capacity = limiterStats.Capacity
		stats.QueueLength = limiterStats.QueueLength
	}
	for _, c := range r.Caches {
		stats.CacheSize += c.Len()
	}
	for _, b := range r.Batchers {
		stats.PendingBatches += b.PendingBatches()
	}
	return stats
}
