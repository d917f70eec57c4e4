/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"go.uber.org/atomic"
)

// Default parameter values for the Batcher.
const (
	DefaultMaxBatchSize = 10
	DefaultFlushWindow  = 100 * time.Millisecond
)

// FlushFunc performs one underlying call for the whole batch.
// It must return one result per payload, in the same order;
// the batcher correlates result i with the caller that added payload i.
type FlushFunc[P, R any] func(ctx context.Context, payloads []P) ([]R, error)

// Batcher groups many small operations keyed by logical destination into one
// underlying call. The first Add for a key opens a time window; subsequent
// adds for the same key join the batch until it's full or the window elapses,
// then the whole batch is flushed with a single FlushFunc invocation.
//
// A batch is detached before its flush starts, so an Add that arrives after
// that opens a fresh window instead of joining the in-flight flush.
type Batcher[P, R any] struct {
	flushFn      FlushFunc[P, R]
	maxBatchSize int
	flushWindow  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingBatch[P, R]

	flushedBatches atomic.Int64
	flushedItems   atomic.Int64

	metricsCollector MetricsCollector
	logger           log.FieldLogger
}

type batchItem[P, R any] struct {
	payload P
	done    chan struct{}
	res     R
	err     error
}

type pendingBatch[P, R any] struct {
	key   string
	items []*batchItem[P, R]
	timer *time.Timer
}

// Opts represents options for the Batcher.
type Opts struct {
	// MaxBatchSize is the number of items that triggers an immediate flush.
	// DefaultMaxBatchSize is used if it's not specified.
	MaxBatchSize int

	// FlushWindow determines how long a batch accumulates items before it's
	// flushed with whatever was collected. DefaultFlushWindow is used if it's not specified.
	FlushWindow time.Duration

	// MetricsCollector is used to collect batching metrics. May be nil.
	MetricsCollector MetricsCollector

	// Logger is used for logging flush failures. May be nil.
	Logger log.FieldLogger
}

// New creates a new Batcher with default options.
func New[P, R any](flushFn FlushFunc[P, R]) (*Batcher[P, R], error) {
	return NewWithOpts(flushFn, Opts{})
}

// NewWithOpts creates a new Batcher with the provided options.
func NewWithOpts[P, R any](flushFn FlushFunc[P, R], opts Opts) (*Batcher[P, R], error) {
	if flushFn == nil {
		return nil, fmt.Errorf("flush func must be provided")
	}
	if opts.MaxBatchSize < 0 {
		return nil, fmt.Errorf("max batch size must be positive")
	}
	if opts.MaxBatchSize == 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.FlushWindow < 0 {
		return nil, fmt.Errorf("flush window must be positive")
	}
	if opts.FlushWindow == 0 {
		opts.FlushWindow = DefaultFlushWindow
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Batcher[P, R]{
		flushFn:          flushFn,
		maxBatchSize:     opts.MaxBatchSize,
		flushWindow:      opts.FlushWindow,
		pending:          make(map[string]*pendingBatch[P, R]),
		metricsCollector: opts.MetricsCollector,
		logger:           opts.Logger,
	}, nil
}

// Add appends payload to the batch for the given key and blocks until the
// batch is flushed or ctx expires. Cancellation before the flush starts
// removes the item without disturbing the other batch members.
func (b *Batcher[P, R]) Add(ctx context.Context, key string, payload P) (R, error) {
	var zero R

	b.mu.Lock()
	pb := b.pending[key]
	if pb == nil {
		pb = &pendingBatch[P, R]{key: key}
		pb.timer = time.AfterFunc(b.flushWindow, func() { b.flushOnWindowElapsed(key, pb) })
		b.pending[key] = pb
		b.metricsCollector.SetPendingBatches(len(b.pending))
	}
	it := &batchItem[P, R]{payload: payload, done: make(chan struct{})}
	pb.items = append(pb.items, it)
	full := len(pb.items) >= b.maxBatchSize
	if full {
		b.detachLocked(key)
	}
	b.mu.Unlock()

	if full {
		pb.timer.Stop()
		// The caller that filled the batch performs the flush.
		b.flush(pb)
	}

	select {
	case <-it.done:
		return it.res, it.err
	case <-ctx.Done():
		b.mu.Lock()
		if b.pending[key] == pb {
			b.removeItemLocked(pb, it)
		}
		b.mu.Unlock()
		return zero, ctx.Err()
	}
}

// PendingBatches returns the current number of open batch windows.
func (b *Batcher[P, R]) PendingBatches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats represents a snapshot of the batcher counters.
type Stats struct {
	PendingBatches int
	FlushedBatches int64
	FlushedItems   int64
}

// Stats returns a snapshot of the batcher counters.
func (b *Batcher[P, R]) Stats() Stats {
	return Stats{
		PendingBatches: b.PendingBatches(),
		FlushedBatches: b.flushedBatches.Load(),
		FlushedItems:   b.flushedItems.Load(),
	}
}

func (b *Batcher[P, R]) detachLocked(key string) {
	delete(b.pending, key)
	b.metricsCollector.SetPendingBatches(len(b.pending))
}

func (b *Batcher[P, R]) removeItemLocked(pb *pendingBatch[P, R], it *batchItem[P, R]) {
	for i, cur := range pb.items {
		if cur == it {
			pb.items = append(pb.items[:i], pb.items[i+1:]...)
			break
		}
	}
	if len(pb.items) == 0 {
		pb.timer.Stop()
		b.detachLocked(pb.key)
	}
}

func (b *Batcher[P, R]) flushOnWindowElapsed(key string, pb *pendingBatch[P, R]) {
	b.mu.Lock()
	if b.pending[key] != pb {
		// The batch was already flushed by size or fully cancelled.
		b.mu.Unlock()
		return
	}
	b.detachLocked(key)
	b.mu.Unlock()
	b.flush(pb)
}

// flush is called with pb already detached, so its items are immutable here.
func (b *Batcher[P, R]) flush(pb *pendingBatch[P, R]) {
	payloads := make([]P, len(pb.items))
	for i, it := range pb.items {
		payloads[i] = it.payload
	}

	results, err := b.flushFn(context.Background(), payloads)
	if err == nil && len(results) != len(payloads) {
		err = fmt.Errorf("flush func returned %d results for %d payloads", len(results), len(payloads))
	}
	if err != nil {
		b.metricsCollector.IncFlushFailures()
		b.logger.Error("batch flush failed",
			log.String("batch_key", pb.key), log.Int("batch_size", len(payloads)), log.Error(err))
		flushErr := &FlushError{BatchKey: pb.key, BatchSize: len(payloads), Inner: err}
		for _, it := range pb.items {
			it.err = flushErr
			close(it.done)
		}
		return
	}

	b.flushedBatches.Inc()
	b.flushedItems.Add(int64(len(pb.items)))
	b.metricsCollector.ObserveBatchSize(len(pb.items))
	for i, it := range pb.items {
		it.res = results[i]
		close(it.done)
	}
}

// FlushError is returned to every member of a batch whose flush failed wholesale.
type FlushError struct {
	BatchKey  string
	BatchSize int
	Inner     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush batch %q (%d items): %s", e.BatchKey, e.BatchSize, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *FlushError) Unwrap() error {
	return e.Inner
}
