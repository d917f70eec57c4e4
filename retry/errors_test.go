/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass ErrorClass
	}{
		{"explicitly rate-limited", NewRateLimitedError(fmt.Errorf("429"), 0), ErrorClassRateLimited},
		{"explicitly server", NewClassifiedError(ErrorClassServer, fmt.Errorf("503")), ErrorClassServer},
		{"explicitly client", NewClassifiedError(ErrorClassClient, fmt.Errorf("400")), ErrorClassClient},
		{"wrapped classified", fmt.Errorf("call backend: %w",
			NewClassifiedError(ErrorClassNetwork, fmt.Errorf("reset"))), ErrorClassNetwork},
		{"io.EOF is temporary", io.EOF, ErrorClassNetwork},
		{"temporary interface", tempError{}, ErrorClassNetwork},
		{"unknown error", fmt.Errorf("something odd"), ErrorClassOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantClass, ClassifyError(tt.err))
		})
	}
}

func TestErrorClass_Transient(t *testing.T) {
	require.True(t, ErrorClassRateLimited.Transient())
	require.True(t, ErrorClassServer.Transient())
	require.True(t, ErrorClassNetwork.Transient())
	require.False(t, ErrorClassClient.Transient())
	require.False(t, ErrorClassOther.Transient())
}

func TestRetryAfterFromError(t *testing.T) {
	retryAfter, ok := RetryAfterFromError(NewRateLimitedError(fmt.Errorf("429"), 42*time.Second))
	require.True(t, ok)
	require.Equal(t, 42*time.Second, retryAfter)

	_, ok = RetryAfterFromError(NewRateLimitedError(fmt.Errorf("429"), 0))
	require.False(t, ok)

	_, ok = RetryAfterFromError(fmt.Errorf("plain"))
	require.False(t, ok)

	// The hint must be extractable through wrapping.
	wrapped := fmt.Errorf("do request: %w", NewRateLimitedError(fmt.Errorf("429"), time.Second))
	retryAfter, ok = RetryAfterFromError(wrapped)
	require.True(t, ok)
	require.Equal(t, time.Second, retryAfter)
}

func TestExponentialBackoffPolicy_Defaults(t *testing.T) {
	bf := ExponentialBackoffPolicy{}.NewBackOff()
	eb, ok := bf.(*backoff.ExponentialBackOff)
	require.True(t, ok)
	require.Equal(t, DefaultBackoffInitialInterval, eb.InitialInterval)
	require.Equal(t, DefaultBackoffMaxInterval, eb.MaxInterval)
	require.Equal(t, float64(DefaultBackoffMultiplier), eb.Multiplier)
	require.Equal(t, DefaultJitterFactor, eb.RandomizationFactor)
	require.Equal(t, time.Duration(0), eb.MaxElapsedTime)

	noJitter := ExponentialBackoffPolicy{NoJitter: true}.NewBackOff().(*backoff.ExponentialBackOff)
	require.Equal(t, 0.0, noJitter.RandomizationFactor)
}

func TestExhaustedError_Format(t *testing.T) {
	inner := NewClassifiedError(ErrorClassServer, fmt.Errorf("503"))
	err := &ExhaustedError{Attempts: 4, Elapsed: 2 * time.Second, Inner: inner}
	require.Contains(t, err.Error(), "4 attempts")
	require.ErrorIs(t, err, inner)
}
