/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrorClass classifies a failure of the underlying operation for retry purposes.
type ErrorClass int

// Supported error classes.
const (
	// ErrorClassOther is a permanent failure of unknown nature. Never retried.
	ErrorClassOther ErrorClass = iota

	// ErrorClassRateLimited is a transient failure caused by server-side throttling.
	// The server may provide a retry-after hint (see ClassifiedError.RetryAfter).
	ErrorClassRateLimited

	// ErrorClassServer is a transient server-side failure.
	ErrorClassServer

	// ErrorClassNetwork is a transient transport-level failure.
	ErrorClassNetwork

	// ErrorClassClient is a permanent client-side failure (bad request, validation).
	// Retrying it would produce the same result.
	ErrorClassClient
)

// String implements fmt.Stringer.
func (c ErrorClass) String() string {
	switch c {
	case ErrorClassRateLimited:
		return "rate-limited"
	case ErrorClassServer:
		return "server"
	case ErrorClassNetwork:
		return "network"
	case ErrorClassClient:
		return "client"
	}
	return "other"
}

// Transient reports whether failures of this class are worth retrying.
func (c ErrorClass) Transient() bool {
	return c == ErrorClassRateLimited || c == ErrorClassServer || c == ErrorClassNetwork
}

// ClassifiedError attaches an ErrorClass (and an optional retry-after hint)
// to an underlying failure.
type ClassifiedError struct {
	Class ErrorClass

	// RetryAfter is a server-provided hint on when the call may be repeated.
	// Zero means no hint. Meaningful for ErrorClassRateLimited only.
	RetryAfter time.Duration

	Inner error
}

// NewClassifiedError creates a new ClassifiedError with the given class.
func NewClassifiedError(class ErrorClass, inner error) *ClassifiedError {
	return &ClassifiedError{Class: class, Inner: inner}
}

// NewRateLimitedError creates a new ClassifiedError of ErrorClassRateLimited
// with a server-provided retry-after hint (zero if the server gave none).
func NewRateLimitedError(inner error, retryAfter time.Duration) *ClassifiedError {
	return &ClassifiedError{Class: ErrorClassRateLimited, RetryAfter: retryAfter, Inner: inner}
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Class, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *ClassifiedError) Unwrap() error {
	return e.Inner
}

// Temporary reports whether the error is transient.
func (e *ClassifiedError) Temporary() bool {
	return e.Class.Transient()
}

// ClassifyError returns the class of the given error.
// An explicitly classified error keeps its class; an unclassified one is
// treated as a network failure when it looks temporary and as ErrorClassOther otherwise.
func ClassifyError(err error) ErrorClass {
	var cerr *ClassifiedError
	if errors.As(err, &cerr) {
		return cerr.Class
	}
	if CheckErrorIsTemporary(err) {
		return ErrorClassNetwork
	}
	return ErrorClassOther
}

// RetryAfterFromError extracts a server-provided retry-after hint from the error chain.
func RetryAfterFromError(err error) (time.Duration, bool) {
	var cerr *ClassifiedError
	if errors.As(err, &cerr) && cerr.RetryAfter > 0 {
		return cerr.RetryAfter, true
	}
	return 0, false
}

// CheckErrorIsTemporary checks either error is temporary or not.
func CheckErrorIsTemporary(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var terr interface{ Temporary() bool }
	ok := errors.As(err, &terr)
	return ok && terr.Temporary()
}

// ExhaustedError is returned when the retry budget is spent.
// It carries enough context (attempt count, elapsed time, last failure)
// to drive a retry affordance on the caller's side.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Inner    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts in %s: %s", e.Attempts, e.Elapsed, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *ExhaustedError) Unwrap() error {
	return e.Inner
}
