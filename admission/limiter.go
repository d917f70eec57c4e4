/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
)

// timerSlack compensates for timer granularity: waking up slightly after
// the next token accrues is harmless, waking up before it leads to a useless
// re-check and reschedule.
const timerSlack = time.Millisecond

// Limiter is a token-bucket admission gate for outgoing calls.
// Tokens accumulate at a fixed rate up to the bucket capacity, and each
// admitted call consumes one token. When the bucket is empty, callers are
// queued (higher priority first, FIFO within the same priority) and suspended
// until a token accrues or their context expires.
//
// Refill is computed lazily on each access instead of by a background ticker,
// so an idle limiter costs nothing. The limiter never fails the work it
// admits, it only delays dispatch.
type Limiter struct {
	capacity   int
	refillRate float64 // tokens per second

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	waiters    []*waiter
	wakeTimer  *time.Timer

	nowFn            func() time.Time
	metricsCollector MetricsCollector
	logger           log.FieldLogger
}

type waiter struct {
	priority   int
	enqueuedAt time.Time
	ready      chan struct{}
	granted    bool
}

// Opts represents options for the Limiter.
type Opts struct {
	// NowFn is a time source. time.Now is used if it's not specified.
	// It's mostly useful in tests where the token math should be deterministic.
	NowFn func() time.Time

	// MetricsCollector is used to collect limiter metrics. May be nil.
	MetricsCollector MetricsCollector

	// Logger is used for logging. May be nil.
	Logger log.FieldLogger
}

// New creates a new Limiter with the given bucket capacity and refill rate (tokens per second).
// The bucket starts full.
func New(capacity int, refillRatePerSecond float64) (*Limiter, error) {
	return NewWithOpts(capacity, refillRatePerSecond, Opts{})
}

// NewWithOpts creates a new Limiter with the given bucket capacity, refill rate, and options.
func NewWithOpts(capacity int, refillRatePerSecond float64, opts Opts) (*Limiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if refillRatePerSecond < 0 {
		return nil, fmt.Errorf("refill rate must not be negative")
	}
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Limiter{
		capacity:         capacity,
		refillRate:       refillRatePerSecond,
		tokens:           float64(capacity),
		lastRefill:       opts.NowFn(),
		nowFn:            opts.NowFn,
		metricsCollector: opts.MetricsCollector,
		logger:           opts.Logger,
	}, nil
}

// Acquire blocks until a token is available or ctx expires.
// Queued callers are dispatched in priority-descending order,
// FIFO within the same priority. Cancellation while queued removes
// the entry without consuming a token.
func (l *Limiter) Acquire(ctx context.Context, priority int) error {
	l.mu.Lock()
	l.refillLocked()
	if len(l.waiters) == 0 && l.tokens >= 1 {
		l.tokens--
		l.metricsCollector.SetAvailableTokens(l.tokens)
		l.metricsCollector.IncAcquired()
		l.mu.Unlock()
		return nil
	}
	w := &waiter{priority: priority, enqueuedAt: l.nowFn(), ready: make(chan struct{})}
	l.enqueueLocked(w)
	l.scheduleWakeLocked()
	l.metricsCollector.SetQueueLength(len(l.waiters))
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if w.granted {
			// The token was granted between ctx expiry and lock acquisition, keep it.
			l.mu.Unlock()
			return nil
		}
		l.removeLocked(w)
		l.metricsCollector.SetQueueLength(len(l.waiters))
		l.metricsCollector.IncWaitTimeouts()
		l.mu.Unlock()
		l.logger.Warn("admission wait interrupted",
			log.Int("priority", priority), log.NamedError("reason", ctx.Err()))
		return &AcquireTimeoutError{Priority: priority, Inner: ctx.Err()}
	}
}

// Execute acquires a token with the given priority and runs fn.
// The result of fn is returned to the caller untouched.
func (l *Limiter) Execute(ctx context.Context, priority int, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, priority); err != nil {
		return err
	}
	return fn(ctx)
}

// Stats represents a snapshot of the limiter state.
type Stats struct {
	AvailableTokens float64
	Capacity        int
	QueueLength     int
}

// Stats returns a snapshot of the limiter state. Refill is applied before the snapshot is taken.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return Stats{AvailableTokens: l.tokens, Capacity: l.capacity, QueueLength: len(l.waiters)}
}

func (l *Limiter) refillLocked() {
	now := l.nowFn()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now
	if l.refillRate == 0 || l.tokens >= float64(l.capacity) {
		return
	}
	l.tokens += elapsed.Seconds() * l.refillRate
	if l.tokens > float64(l.capacity) {
		l.tokens = float64(l.capacity)
	}
	l.metricsCollector.SetAvailableTokens(l.tokens)
}

// enqueueLocked inserts w keeping the queue ordered by priority descending,
// then by enqueue time ascending. Expected queue depths are tens of entries,
// so a sorted slice insertion beats a heap in both simplicity and constants.
func (l *Limiter) enqueueLocked(w *waiter) {
	i := len(l.waiters)
	for i > 0 && l.waiters[i-1].priority < w.priority {
		i--
	}
	l.waiters = append(l.waiters, nil)
	copy(l.waiters[i+1:], l.waiters[i:])
	l.waiters[i] = w
}

func (l *Limiter) removeLocked(w *waiter) {
	for i, qw := range l.waiters {
		if qw == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	if len(l.waiters) == 0 && l.wakeTimer != nil {
		l.wakeTimer.Stop()
	}
}

func (l *Limiter) dispatchLocked() {
	for len(l.waiters) > 0 && l.tokens >= 1 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.tokens--
		w.granted = true
		close(w.ready)
		l.metricsCollector.IncAcquired()
	}
	l.metricsCollector.SetAvailableTokens(l.tokens)
	l.metricsCollector.SetQueueLength(len(l.waiters))
}

// scheduleWakeLocked arms the wake timer for the moment the next token accrues.
// With a zero refill rate there is nothing to wait for: queued callers can
// leave only via cancellation.
func (l *Limiter) scheduleWakeLocked() {
	if len(l.waiters) == 0 || l.refillRate == 0 {
		return
	}
	need := 1 - l.tokens
	if need < 0 {
		need = 0
	}
	d := time.Duration(need/l.refillRate*float64(time.Second)) + timerSlack
	if l.wakeTimer == nil {
		l.wakeTimer = time.AfterFunc(d, l.onWake)
		return
	}
	l.wakeTimer.Reset(d)
}

func (l *Limiter) onWake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	l.dispatchLocked()
	l.scheduleWakeLocked()
}

// AcquireTimeoutError is returned by Acquire when the caller's context expires
// before a token becomes available.
type AcquireTimeoutError struct {
	Priority int
	Inner    error
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("acquire admission token (priority %d): %s", e.Priority, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *AcquireTimeoutError) Unwrap() error {
	return e.Inner
}
