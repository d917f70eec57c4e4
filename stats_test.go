/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package apiguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-apiguard/admission"
	"github.com/acronis/go-apiguard/batch"
	"github.com/acronis/go-apiguard/dedup"
)

func TestStatsReporterGather(t *testing.T) {
	limiter, err := admission.New(10, 100)
	require.NoError(t, err)

	cacheA := dedup.New[string]()
	cacheB := dedup.New[int]()
	for _, key := range []string{"a", "b", "c"} {
		_, err = cacheA.Do(context.Background(), key, func(ctx context.Context) (string, error) {
			return "v", nil
		})
		require.NoError(t, err)
	}
	_, err = cacheB.Do(context.Background(), "n", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)

	batcher, err := batch.NewWithOpts(func(ctx context.Context, payloads []string) ([]string, error) {
		return payloads, nil
	}, batch.Opts{MaxBatchSize: 10, FlushWindow: time.Minute})
	require.NoError(t, err)
	go func() {
		_, _ = batcher.Add(context.Background(), "events", "payload")
	}()
	require.Eventually(t, func() bool { return batcher.PendingBatches() == 1 }, time.Second, time.Millisecond)

	reporter := &StatsReporter{
		Limiter:  limiter,
		Caches:   []CacheLenReporter{cacheA, cacheB},
		Batchers: []PendingBatchesReporter{batcher},
	}
	stats := reporter.Gather()
	require.Equal(t, 10, stats.Capacity)
	require.Equal(t, float64(10), stats.AvailableTokens)
	require.Equal(t, 0, stats.QueueLength)
	require.Equal(t, 4, stats.CacheSize)
	require.Equal(t, 1, stats.PendingBatches)
}

func TestStatsReporterGather_Empty(t *testing.T) {
	reporter := &StatsReporter{}
	require.Equal(t, Stats{}, reporter.Gather())
}
