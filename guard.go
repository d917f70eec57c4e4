/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package apiguard

import (
	"context"
	"fmt"

	"github.com/acronis/go-apiguard/admission"
	"github.com/acronis/go-apiguard/dedup"
	"github.com/acronis/go-apiguard/retry"
)

// Task is an opaque asynchronous operation guarded by the resilience layers.
// The guard never interprets the produced value.
type Task[T any] func(ctx context.Context) (T, error)

// Call describes one guarded invocation.
type Call struct {
	// Key identifies the logical request for deduplication purposes and must
	// be a pure function of it (e.g. canonicalized method, target, and
	// normalized body). An empty key opts the call out of deduplication,
	// which is the intended default for mutation paths.
	Key string

	// Priority orders callers waiting for admission (higher first).
	Priority int
}

// Guard composes the resilience layers around a task:
//
//	caller -> retry -> dedup -> admission -> task
//
// The retry executor is the outermost layer, so each retry attempt goes
// through deduplication and admission again. Results and failures of the
// task propagate back unchanged except for retry bookkeeping.
type Guard[T any] struct {
	limiter *admission.Limiter
	dedup   *dedup.Deduplicator[T]
	retrier *retry.Executor
}

// GuardOpts represents options for the Guard.
type GuardOpts[T any] struct {
	// Deduplicator coalesces calls that carry a non-empty Call.Key.
	// Deduplication is disabled if it's nil.
	Deduplicator *dedup.Deduplicator[T]

	// Retrier executes the composed call with bounded retry.
	// retry.NewExecutor() is used if it's not specified.
	Retrier *retry.Executor
}

// NewGuard creates a new Guard around the given admission limiter with default options.
func NewGuard[T any](limiter *admission.Limiter) (*Guard[T], error) {
	return NewGuardWithOpts(limiter, GuardOpts[T]{})
}

// NewGuardWithOpts creates a new Guard around the given admission limiter with specified options.
func NewGuardWithOpts[T any](limiter *admission.Limiter, opts GuardOpts[T]) (*Guard[T], error) {
	if limiter == nil {
		return nil, fmt.Errorf("admission limiter must be provided")
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.NewExecutor()
	}
	return &Guard[T]{
		limiter: limiter,
		dedup:   opts.Deduplicator,
		retrier: opts.Retrier,
	}, nil
}

// Do runs fn through the guard layers and returns its result.
func (g *Guard[T]) Do(ctx context.Context, call Call, fn Task[T]) (T, error) {
	admitted := func(ctx context.Context) (T, error) {
		var res T
		err := g.limiter.Execute(ctx, call.Priority, func(ctx context.Context) error {
			var fnErr error
			res, fnErr = fn(ctx)
			return fnErr
		})
		return res, err
	}

	inner := admitted
	if g.dedup != nil && call.Key != "" {
		inner = func(ctx context.Context) (T, error) {
			return g.dedup.Do(ctx, call.Key, admitted)
		}
	}

	var res T
	err := g.retrier.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		res, innerErr = inner(ctx)
		return innerErr
	})
	return res, err
}
