/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default parameter values for backoff policies.
const (
	DefaultBackoffInitialInterval = 500 * time.Millisecond
	DefaultBackoffMaxInterval     = 10 * time.Second
	DefaultBackoffMultiplier      = 2

	// DefaultJitterFactor randomizes each delay within ±30% to avoid
	// synchronized retry storms across callers.
	DefaultJitterFactor = 0.3
)

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// ExponentialBackoffPolicy produces exponentially growing delays with jitter:
// delay(n) = min(MaxInterval, InitialInterval * Multiplier^n) * (1 ± RandomizationFactor).
// Zero-valued fields fall back to the corresponding defaults.
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// RandomizationFactor is a jitter factor in [0..1).
	// Set NoJitter to disable jitter completely.
	RandomizationFactor float64
	NoJitter            bool
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	if eb.InitialInterval == 0 {
		eb.InitialInterval = DefaultBackoffInitialInterval
	}
	eb.MaxInterval = p.MaxInterval
	if eb.MaxInterval == 0 {
		eb.MaxInterval = DefaultBackoffMaxInterval
	}
	eb.Multiplier = p.Multiplier
	if eb.Multiplier == 0 {
		eb.Multiplier = DefaultBackoffMultiplier
	}
	eb.RandomizationFactor = p.RandomizationFactor
	if eb.RandomizationFactor == 0 && !p.NoJitter {
		eb.RandomizationFactor = DefaultJitterFactor
	}
	if p.NoJitter {
		eb.RandomizationFactor = 0
	}
	eb.MaxElapsedTime = 0 // the retry budget is owned by the Executor
	eb.Reset()
	return eb
}

// ConstantBackoffPolicy produces constant interval delays.
type ConstantBackoffPolicy struct {
	Interval time.Duration
}

// NewBackOff implements retry.Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	bf := backoff.NewConstantBackOff(p.Interval)
	bf.Reset()
	return bf
}

// DefaultBackoffPolicy is the policy used by the Executor when no other is configured.
var DefaultBackoffPolicy Policy = ExponentialBackoffPolicy{}
