/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-appkit/log"
)

// Default retry budgets. Reads get a bigger budget than writes since a
// duplicated write is riskier than a duplicated read.
const (
	DefaultReadMaxRetryAttempts  = 3
	DefaultWriteMaxRetryAttempts = 2
)

// CheckRetryFunc is called right after a failed attempt and determines
// if the next retry attempt is needed.
type CheckRetryFunc func(err error, doneRetryAttempts int) bool

// DefaultCheckRetry retries transient failures (rate-limited, server-side,
// network) and never retries client/validation or unclassified permanent errors.
func DefaultCheckRetry(err error, doneRetryAttempts int) bool {
	return ClassifyError(err).Transient()
}

// Executor runs an operation with bounded retry, exponential backoff, and jitter.
// It's the only component that retries locally: inner layers (admission,
// deduplication, batching) delay or group dispatch but never re-execute.
type Executor struct {
	// MaxRetryAttempts determines how many maximum retry attempts can be done.
	// The total number of executions may be MaxRetryAttempts + 1
	// (the first one is not a retry attempt).
	// By default, DefaultReadMaxRetryAttempts const is used.
	MaxRetryAttempts int

	// Policy is used for computing wait time before doing the next retry attempt
	// when the failure doesn't carry a retry-after hint or IgnoreRetryAfter is true.
	// By default, DefaultBackoffPolicy is used.
	Policy Policy

	// CheckRetry is called right after a failed attempt and determines if the
	// next retry attempt is needed. By default, DefaultCheckRetry function is used.
	CheckRetry CheckRetryFunc

	// IgnoreRetryAfter determines if a server-provided retry-after hint
	// (see ClassifiedError.RetryAfter) is used as a wait time before the next attempt.
	// If it's true or the failure carries no hint, Policy is used for computing delay.
	IgnoreRetryAfter bool

	// Logger is used for logging.
	// When it's necessary to use context-specific logger, LoggerProvider should be used instead.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger
}

// ExecutorOpts represents an options for Executor.
type ExecutorOpts struct {
	// MaxRetryAttempts determines how many maximum retry attempts can be done.
	// By default, DefaultReadMaxRetryAttempts const is used.
	MaxRetryAttempts int

	// Policy is used for computing wait time before doing the next retry attempt.
	// By default, DefaultBackoffPolicy is used.
	Policy Policy

	// CheckRetry determines if the next retry attempt is needed.
	// By default, DefaultCheckRetry function is used.
	CheckRetry CheckRetryFunc

	// IgnoreRetryAfter disables honoring server-provided retry-after hints.
	IgnoreRetryAfter bool

	// Logger is used for logging.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger
}

// NewExecutor returns a new instance of Executor with default options.
func NewExecutor() *Executor {
	e, _ := NewExecutorWithOpts(ExecutorOpts{})
	return e
}

// NewExecutorWithOpts creates a new instance of Executor with specified options.
func NewExecutorWithOpts(opts ExecutorOpts) (*Executor, error) {
	if opts.MaxRetryAttempts < 0 {
		return nil, fmt.Errorf("incorrect max retry attempts")
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = DefaultReadMaxRetryAttempts
	}
	if opts.Policy == nil {
		opts.Policy = DefaultBackoffPolicy
	}
	if opts.CheckRetry == nil {
		opts.CheckRetry = DefaultCheckRetry
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Executor{
		MaxRetryAttempts: opts.MaxRetryAttempts,
		Policy:           opts.Policy,
		CheckRetry:       opts.CheckRetry,
		IgnoreRetryAfter: opts.IgnoreRetryAfter,
		Logger:           opts.Logger,
		LoggerProvider:   opts.LoggerProvider,
	}, nil
}

// Do executes fn, retrying transient failures until success, a permanent
// failure, ctx expiry, or retry budget exhaustion. Exhaustion is reported
// as *ExhaustedError wrapping the last failure.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	bf := e.Policy.NewBackOff()
	start := time.Now()

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !e.CheckRetry(err, attempt) {
			return err
		}
		if attempt >= e.MaxRetryAttempts {
			e.logger(ctx).Warn("max retry attempts exceeded",
				log.Int("attempts", attempt+1), log.Error(err))
			return &ExhaustedError{Attempts: attempt + 1, Elapsed: time.Since(start), Inner: err}
		}

		waitTime, ok := e.nextWaitTime(bf, err)
		if !ok {
			return &ExhaustedError{Attempts: attempt + 1, Elapsed: time.Since(start), Inner: err}
		}
		e.logger(ctx).Warn("retrying after transient failure",
			log.Int("attempt", attempt+1),
			log.DurationIn(waitTime, time.Millisecond),
			log.Error(err))

		select {
		case <-ctx.Done():
			e.logger(ctx).Warn("context done while waiting for the next retry attempt",
				log.Int("attempts", attempt+1), log.NamedError("reason", ctx.Err()))
			return err
		case <-time.After(waitTime):
		}
	}
}

func (e *Executor) nextWaitTime(bf backoff.BackOff, err error) (time.Duration, bool) {
	if !e.IgnoreRetryAfter {
		if retryAfter, ok := RetryAfterFromError(err); ok {
			return retryAfter, true
		}
	}
	waitTime := bf.NextBackOff()
	if waitTime == backoff.Stop {
		return 0, false
	}
	return waitTime, true
}

func (e *Executor) logger(ctx context.Context) log.FieldLogger {
	if e.LoggerProvider != nil {
		return e.LoggerProvider(ctx)
	}
	return e.Logger
}
