/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForQueueLen(t *testing.T, l *Limiter, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if l.Stats().QueueLength == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, want, l.Stats().QueueLength)
}

func TestNewWithOpts_Validation(t *testing.T) {
	_, err := New(0, 1)
	require.Error(t, err)
	_, err = New(-1, 1)
	require.Error(t, err)
	_, err = New(1, -0.5)
	require.Error(t, err)
	l, err := New(1, 0)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestLimiter_AcquireImmediateWithinCapacity(t *testing.T) {
	const capacity = 5

	l, err := New(capacity, 1)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < capacity; i++ {
		require.NoError(t, l.Acquire(context.Background(), 0))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond, "calls within capacity must not queue")

	stats := l.Stats()
	require.Equal(t, capacity, stats.Capacity)
	require.Equal(t, 0, stats.QueueLength)
	require.GreaterOrEqual(t, stats.AvailableTokens, 0.0)
	require.LessOrEqual(t, stats.AvailableTokens, float64(capacity))
}

func TestLimiter_TokensNeverExceedCapacityOrGoNegative(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	nowFn := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	l, err := NewWithOpts(3, 10, Opts{NowFn: nowFn})
	require.NoError(t, err)

	// Long idle period must not overfill the bucket.
	advance(time.Hour)
	require.Equal(t, 3.0, l.Stats().AvailableTokens)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), 0))
		tokens := l.Stats().AvailableTokens
		require.GreaterOrEqual(t, tokens, 0.0)
		require.LessOrEqual(t, tokens, 3.0)
	}
	require.InDelta(t, 0.0, l.Stats().AvailableTokens, 1e-9)

	advance(100 * time.Millisecond) // 1 token at 10/s
	require.InDelta(t, 1.0, l.Stats().AvailableTokens, 1e-9)
}

func TestLimiter_QueueingBeyondCapacityWithFrozenClock(t *testing.T) {
	now := time.Now()
	l, err := NewWithOpts(2, 1, Opts{NowFn: func() time.Time { return now }})
	require.NoError(t, err)

	// Exactly capacity calls are admitted immediately.
	require.NoError(t, l.Acquire(context.Background(), 0))
	require.NoError(t, l.Acquire(context.Background(), 0))

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- l.Acquire(ctx, 0)
		}()
		waitForQueueLen(t, l, i+1)
	}

	require.Equal(t, 3, l.Stats().QueueLength)

	cancel()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		var timeoutErr *AcquireTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		require.ErrorIs(t, err, context.Canceled)
	}
	require.Equal(t, 0, l.Stats().QueueLength)
}

func TestLimiter_DispatchOrderPriorityThenFIFO(t *testing.T) {
	now := time.Now()
	var nowMu sync.Mutex
	nowFn := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		nowMu.Lock()
		now = now.Add(d)
		nowMu.Unlock()
	}

	l, err := NewWithOpts(1, 50, Opts{NowFn: nowFn}) // 1 token per 20ms
	require.NoError(t, err)

	// Drain the bucket so that all subsequent acquires queue up.
	// The clock is frozen, so the queue order is fixed by the enqueue order.
	require.NoError(t, l.Acquire(context.Background(), 0))

	type enqueued struct {
		id       string
		priority int
	}
	plan := []enqueued{
		{"low-1", 0},
		{"high-1", 10},
		{"low-2", 0},
		{"high-2", 10},
		{"mid-1", 5},
	}

	var mu sync.Mutex
	var gotOrder []string
	var wg sync.WaitGroup
	for i, e := range plan {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background(), e.priority))
			mu.Lock()
			gotOrder = append(gotOrder, e.id)
			mu.Unlock()
		}()
		waitForQueueLen(t, l, i+1) // fix the enqueue order
	}

	// Release tokens one by one so that completions are recorded in dispatch order.
	for n := len(plan); n > 0; n-- {
		advance(20 * time.Millisecond)
		waitForQueueLen(t, l, n-1)
		time.Sleep(5 * time.Millisecond) // let the dispatched goroutine record its completion
	}
	wg.Wait()

	require.Equal(t, []string{"high-1", "high-2", "mid-1", "low-1", "low-2"}, gotOrder)
}

func TestLimiter_QueuedCallersDispatchAsTokensAccrue(t *testing.T) {
	const capacity = 5

	l, err := New(capacity, 100)
	require.NoError(t, err)

	start := time.Now()
	var immediate, delayed int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background(), 0))
			mu.Lock()
			if time.Since(start) < 5*time.Millisecond {
				immediate++
			} else {
				delayed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, immediate, capacity)
	require.Equal(t, 10, immediate+delayed)
	// 5 queued callers at 100 tokens/s should all be dispatched in well under a second.
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 0, l.Stats().QueueLength)
}

func TestLimiter_CancellationDoesNotConsumeToken(t *testing.T) {
	now := time.Now()
	l, err := NewWithOpts(1, 0, Opts{NowFn: func() time.Time { return now }})
	require.NoError(t, err)

	require.NoError(t, l.Acquire(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx, 0)
	var timeoutErr *AcquireTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, timeoutErr.Priority)

	stats := l.Stats()
	require.Equal(t, 0, stats.QueueLength)
	require.InDelta(t, 0.0, stats.AvailableTokens, 1e-9)
}

func TestLimiter_ExecutePropagatesTaskResult(t *testing.T) {
	l, err := New(1, 1)
	require.NoError(t, err)

	wantErr := fmt.Errorf("backend exploded")
	err = l.Execute(context.Background(), 0, func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// The task failure must not be converted into a limiter error.
	var timeoutErr *AcquireTimeoutError
	require.False(t, errors.As(err, &timeoutErr))
}

func TestLimiter_ConcurrentAcquireKeepsInvariants(t *testing.T) {
	l, err := New(4, 200)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		prio := i % 3
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = l.Acquire(ctx, prio)
		}()
	}
	wg.Wait()

	stats := l.Stats()
	require.GreaterOrEqual(t, stats.AvailableTokens, 0.0)
	require.LessOrEqual(t, stats.AvailableTokens, 4.0)
}
