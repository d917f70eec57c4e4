/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vasayxtx/go-glob"
)

// DefaultCacheTTL is a default time-to-live for cached successful results.
const DefaultCacheTTL = 5 * time.Second

// Deduplicator coalesces concurrent calls with the same key into a single
// underlying execution and keeps successful results in a short-TTL cache,
// so bursts of identical requests are absorbed without hitting the backend.
//
// The key must be a pure function of the logical request
// (e.g. canonicalized method, target, and normalized body).
// Failures are never cached: once a call completes with an error,
// the next call with the same key starts a fresh execution.
type Deduplicator[V any] struct {
	cacheTTL time.Duration

	mu       sync.Mutex
	inflight map[string]*call[V]
	cache    map[string]cacheEntry[V]

	nowFn            func() time.Time
	metricsCollector MetricsCollector
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Opts represents options for the Deduplicator.
type Opts struct {
	// CacheTTL determines how long a successful result is served from the cache.
	// Zero disables post-completion caching: literally concurrent duplicates are
	// still coalesced, which is the intended mode for mutation paths.
	CacheTTL time.Duration

	// NowFn is a time source. time.Now is used if it's not specified.
	NowFn func() time.Time

	// MetricsCollector is used to collect deduplication metrics. May be nil.
	MetricsCollector MetricsCollector
}

// New creates a new Deduplicator with the default cache TTL.
func New[V any]() *Deduplicator[V] {
	return NewWithOpts[V](Opts{CacheTTL: DefaultCacheTTL})
}

// NewWithOpts creates a new Deduplicator with the provided options.
// Negative CacheTTL is treated as zero (coalescing only).
func NewWithOpts[V any](opts Opts) *Deduplicator[V] {
	if opts.CacheTTL < 0 {
		opts.CacheTTL = 0
	}
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	return &Deduplicator[V]{
		cacheTTL:         opts.CacheTTL,
		inflight:         make(map[string]*call[V]),
		cache:            make(map[string]cacheEntry[V]),
		nowFn:            opts.NowFn,
		metricsCollector: opts.MetricsCollector,
	}
}

// Do executes and returns the result of fn, making sure that at most one
// execution per key is in flight at a time. Concurrent callers with the same
// key attach to the in-flight call and receive its eventual result; a failure
// shared this way is wrapped into *SharedCallError for the attached callers.
// A fresh successful result is cached until its TTL expires.
//
// An attached caller whose ctx expires detaches and unblocks immediately;
// the underlying execution is not interrupted.
func (d *Deduplicator[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	d.mu.Lock()
	if e, ok := d.cache[key]; ok {
		if d.nowFn().Before(e.expiresAt) {
			d.metricsCollector.IncCacheHits()
			d.mu.Unlock()
			return e.value, nil
		}
		delete(d.cache, key)
		d.metricsCollector.SetCacheSize(len(d.cache))
	}
	if c, ok := d.inflight[key]; ok {
		d.metricsCollector.IncCoalesced()
		d.mu.Unlock()
		select {
		case <-c.done:
			if c.err != nil {
				return zero, &SharedCallError{Key: key, Inner: c.err}
			}
			return c.val, nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	c := &call[V]{done: make(chan struct{})}
	d.inflight[key] = c
	d.metricsCollector.IncCacheMisses()
	d.mu.Unlock()

	c.val, c.err = fn(ctx)

	d.mu.Lock()
	delete(d.inflight, key)
	if c.err == nil && d.cacheTTL > 0 {
		d.cache[key] = cacheEntry[V]{value: c.val, expiresAt: d.nowFn().Add(d.cacheTTL)}
		d.metricsCollector.SetCacheSize(len(d.cache))
	}
	d.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// InvalidateKey removes the cached result for the given key.
// It returns true if an entry was present.
func (d *Deduplicator[V]) InvalidateKey(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache[key]; !ok {
		return false
	}
	delete(d.cache, key)
	d.metricsCollector.SetCacheSize(len(d.cache))
	return true
}

// Invalidate removes all cached results whose keys match the given glob
// pattern (e.g. "GET /projects/*") and returns the number of removed entries.
// In-flight calls are not affected.
func (d *Deduplicator[V]) Invalidate(pattern string) int {
	match := glob.Compile(pattern)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key := range d.cache {
		if match(key) {
			delete(d.cache, key)
			removed++
		}
	}
	if removed != 0 {
		d.metricsCollector.SetCacheSize(len(d.cache))
	}
	return removed
}

// Len returns the current number of cached results, including not yet evicted expired ones.
func (d *Deduplicator[V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// cleanup removes all expired entries.
func (d *Deduplicator[V]) cleanup() {
	now := d.nowFn()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.cache {
		if !now.Before(e.expiresAt) {
			delete(d.cache, key)
		}
	}
	d.metricsCollector.SetCacheSize(len(d.cache))
}

// RunPeriodicCleanup runs a cycle of periodic removal of expired entries.
// Expired entries are also evicted lazily on access, so running the cleanup
// is only needed to keep memory usage bounded when keys have high cardinality.
// It's blocking, should be run in a separate goroutine, and stops when ctx is done.
func (d *Deduplicator[V]) RunPeriodicCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cleanup()
		}
	}
}

// SharedCallError is returned to callers that were attached to somebody
// else's in-flight call when that call fails.
type SharedCallError struct {
	Key   string
	Inner error
}

func (e *SharedCallError) Error() string {
	return fmt.Sprintf("coalesced call %q: %s", e.Key, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *SharedCallError) Unwrap() error {
	return e.Inner
}
