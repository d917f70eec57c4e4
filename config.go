/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package apiguard

import (
	"errors"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/acronis/go-apiguard/admission"
	"github.com/acronis/go-apiguard/batch"
	"github.com/acronis/go-apiguard/dedup"
	"github.com/acronis/go-apiguard/retry"
)

// Default parameter values for the admission limiter configuration.
const (
	DefaultAdmissionCapacity            = 10
	DefaultAdmissionRefillRatePerSecond = 5.0
)

const (
	// RetryPolicyExponential is a policy for exponential retries.
	RetryPolicyExponential = "exponential"

	// RetryPolicyConstant is a policy for constant retries.
	RetryPolicyConstant = "constant"

	cfgDefaultKeyPrefix = "apiguard"

	// configuration properties
	cfgKeyAdmissionCapacity                       = "admission.capacity"
	cfgKeyAdmissionRefillRatePerSecond            = "admission.refillRatePerSecond"
	cfgKeyDedupEnabled                            = "dedup.enabled"
	cfgKeyDedupCacheTTL                           = "dedup.cacheTTL"
	cfgKeyDedupCoalesceWrites                     = "dedup.coalesceWrites"
	cfgKeyBatchMaxSize                            = "batch.maxSize"
	cfgKeyBatchFlushWindow                        = "batch.flushWindow"
	cfgKeyRetriesReadMaxAttempts                  = "retries.readMaxAttempts"
	cfgKeyRetriesWriteMaxAttempts                 = "retries.writeMaxAttempts"
	cfgKeyRetriesPolicyStrategy                   = "retries.policy.strategy"
	cfgKeyRetriesPolicyExponentialInitialInterval = "retries.policy.exponentialBackoffInitialInterval"
	cfgKeyRetriesPolicyExponentialMaxInterval     = "retries.policy.exponentialBackoffMaxInterval"
	cfgKeyRetriesPolicyExponentialMultiplier      = "retries.policy.exponentialBackoffMultiplier"
	cfgKeyRetriesPolicyJitterFactor               = "retries.policy.jitterFactor"
	cfgKeyRetriesPolicyConstantInterval           = "retries.policy.constantBackoffInterval"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// AdmissionConfig represents configuration options for the admission limiter.
type AdmissionConfig struct {
	// Capacity is the token bucket capacity.
	Capacity int `mapstructure:"capacity"`

	// RefillRatePerSecond is the token accrual rate.
	RefillRatePerSecond float64 `mapstructure:"refillRatePerSecond"`
}

// Set is part of config interface implementation.
func (c *AdmissionConfig) Set(dp config.DataProvider) error {
	capacity, err := dp.GetInt(cfgKeyAdmissionCapacity)
	if err != nil {
		return err
	}
	if capacity < 0 {
		return errors.New("admission capacity must be positive")
	}
	if capacity == 0 {
		capacity = DefaultAdmissionCapacity
	}
	c.Capacity = capacity

	refillRate, err := dp.GetFloat64(cfgKeyAdmissionRefillRatePerSecond)
	if err != nil {
		return err
	}
	if refillRate < 0 {
		return errors.New("admission refill rate must be positive")
	}
	if refillRate == 0 {
		refillRate = DefaultAdmissionRefillRatePerSecond
	}
	c.RefillRatePerSecond = refillRate

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *AdmissionConfig) SetProviderDefaults(_ config.DataProvider) {}

// NewLimiter creates a new admission limiter from the configuration.
func (c *AdmissionConfig) NewLimiter() (*admission.Limiter, error) {
	return admission.New(c.Capacity, c.RefillRatePerSecond)
}

// DedupConfig represents configuration options for request deduplication.
//
// Whether mutation paths should be deduplicated is an explicit product
// decision, not something inferred from request semantics: CoalesceWrites
// is off by default, and a write call site participates in deduplication
// only when it's turned on and the site provides a key.
type DedupConfig struct {
	// Enabled is a flag that enables deduplication.
	Enabled bool `mapstructure:"enabled"`

	// CacheTTL determines how long a successful result is served from the cache.
	// Zero keeps in-flight coalescing but disables post-completion caching.
	CacheTTL time.Duration `mapstructure:"cacheTTL"`

	// CoalesceWrites enables in-flight coalescing for mutation call sites.
	CoalesceWrites bool `mapstructure:"coalesceWrites"`
}

// Set is part of config interface implementation.
func (c *DedupConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyDedupEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	if !c.Enabled {
		return nil
	}

	cacheTTL, err := dp.GetDuration(cfgKeyDedupCacheTTL)
	if err != nil {
		return err
	}
	if cacheTTL < 0 {
		return errors.New("dedup cache TTL must be positive")
	}
	c.CacheTTL = cacheTTL

	coalesceWrites, err := dp.GetBool(cfgKeyDedupCoalesceWrites)
	if err != nil {
		return err
	}
	c.CoalesceWrites = coalesceWrites

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *DedupConfig) SetProviderDefaults(_ config.DataProvider) {}

// DeduplicatorOpts returns deduplicator options.
func (c *DedupConfig) DeduplicatorOpts() dedup.Opts {
	return dedup.Opts{CacheTTL: c.CacheTTL}
}

// BatchConfig represents configuration options for request batching.
type BatchConfig struct {
	// MaxSize is the number of items that triggers an immediate flush.
	MaxSize int `mapstructure:"maxSize"`

	// FlushWindow determines how long a batch accumulates items.
	FlushWindow time.Duration `mapstructure:"flushWindow"`
}

// Set is part of config interface implementation.
func (c *BatchConfig) Set(dp config.DataProvider) error {
	maxSize, err := dp.GetInt(cfgKeyBatchMaxSize)
	if err != nil {
		return err
	}
	if maxSize < 0 {
		return errors.New("batch max size must be positive")
	}
	if maxSize == 0 {
		maxSize = batch.DefaultMaxBatchSize
	}
	c.MaxSize = maxSize

	flushWindow, err := dp.GetDuration(cfgKeyBatchFlushWindow)
	if err != nil {
		return err
	}
	if flushWindow < 0 {
		return errors.New("batch flush window must be positive")
	}
	if flushWindow == 0 {
		flushWindow = batch.DefaultFlushWindow
	}
	c.FlushWindow = flushWindow

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *BatchConfig) SetProviderDefaults(_ config.DataProvider) {}

// BatcherOpts returns batcher options.
func (c *BatchConfig) BatcherOpts() batch.Opts {
	return batch.Opts{MaxBatchSize: c.MaxSize, FlushWindow: c.FlushWindow}
}

// PolicyConfig represents configuration options for the retry backoff policy.
type PolicyConfig struct {
	// Strategy is a strategy for retry policy.
	Strategy string `mapstructure:"strategy"`

	// ExponentialBackoffInitialInterval is the initial interval for exponential backoff.
	ExponentialBackoffInitialInterval time.Duration `mapstructure:"exponentialBackoffInitialInterval"`

	// ExponentialBackoffMaxInterval is the cap for exponential backoff delays.
	ExponentialBackoffMaxInterval time.Duration `mapstructure:"exponentialBackoffMaxInterval"`

	// ExponentialBackoffMultiplier is the multiplier for exponential backoff.
	ExponentialBackoffMultiplier float64 `mapstructure:"exponentialBackoffMultiplier"`

	// JitterFactor randomizes each delay within the given fraction.
	JitterFactor float64 `mapstructure:"jitterFactor"`

	// ConstantBackoffInterval is the interval for constant backoff.
	ConstantBackoffInterval time.Duration `mapstructure:"constantBackoffInterval"`
}

// Set is part of config interface implementation.
func (c *PolicyConfig) Set(dp config.DataProvider) error {
	strategy, err := dp.GetString(cfgKeyRetriesPolicyStrategy)
	if err != nil {
		return err
	}
	c.Strategy = strategy

	switch c.Strategy {
	case "", RetryPolicyExponential, RetryPolicyConstant:
	default:
		return errors.New("retry policy must be one of: [exponential, constant]")
	}

	if c.Strategy == RetryPolicyExponential {
		if c.ExponentialBackoffInitialInterval, err = dp.GetDuration(cfgKeyRetriesPolicyExponentialInitialInterval); err != nil {
			return err
		}
		if c.ExponentialBackoffInitialInterval < 0 {
			return errors.New("exponential backoff initial interval must be positive")
		}
		if c.ExponentialBackoffMaxInterval, err = dp.GetDuration(cfgKeyRetriesPolicyExponentialMaxInterval); err != nil {
			return err
		}
		if c.ExponentialBackoffMaxInterval < 0 {
			return errors.New("exponential backoff max interval must be positive")
		}
		if c.ExponentialBackoffMultiplier, err = dp.GetFloat64(cfgKeyRetriesPolicyExponentialMultiplier); err != nil {
			return err
		}
		if c.ExponentialBackoffMultiplier < 0 || c.ExponentialBackoffMultiplier == 1 {
			return errors.New("exponential backoff multiplier must be greater than 1")
		}
		if c.JitterFactor, err = dp.GetFloat64(cfgKeyRetriesPolicyJitterFactor); err != nil {
			return err
		}
		if c.JitterFactor < 0 || c.JitterFactor >= 1 {
			return errors.New("jitter factor must be in range [0..1)")
		}
		return nil
	}

	if c.Strategy == RetryPolicyConstant {
		if c.ConstantBackoffInterval, err = dp.GetDuration(cfgKeyRetriesPolicyConstantInterval); err != nil {
			return err
		}
		if c.ConstantBackoffInterval < 0 {
			return errors.New("constant backoff interval must be positive")
		}
	}

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *PolicyConfig) SetProviderDefaults(_ config.DataProvider) {}

// GetPolicy returns a retry policy based on strategy or nil if none is provided.
func (c *PolicyConfig) GetPolicy() retry.Policy {
	switch c.Strategy {
	case RetryPolicyExponential:
		return retry.ExponentialBackoffPolicy{
			InitialInterval:     c.ExponentialBackoffInitialInterval,
			MaxInterval:         c.ExponentialBackoffMaxInterval,
			Multiplier:          c.ExponentialBackoffMultiplier,
			RandomizationFactor: c.JitterFactor,
		}
	case RetryPolicyConstant:
		return retry.ConstantBackoffPolicy{Interval: c.ConstantBackoffInterval}
	}
	return nil
}

// RetriesConfig represents configuration options for the retry executor.
type RetriesConfig struct {
	// ReadMaxAttempts is the retry budget for read call sites.
	ReadMaxAttempts int `mapstructure:"readMaxAttempts"`

	// WriteMaxAttempts is the retry budget for mutation call sites.
	// It's lower than the read budget by default since duplicate writes are riskier.
	WriteMaxAttempts int `mapstructure:"writeMaxAttempts"`

	// Policy of a retry: [exponential, constant]. Default is exponential.
	Policy PolicyConfig `mapstructure:"policy"`
}

// Set is part of config interface implementation.
func (c *RetriesConfig) Set(dp config.DataProvider) error {
	readMaxAttempts, err := dp.GetInt(cfgKeyRetriesReadMaxAttempts)
	if err != nil {
		return err
	}
	if readMaxAttempts < 0 {
		return errors.New("read max retry attempts must be positive")
	}
	if readMaxAttempts == 0 {
		readMaxAttempts = retry.DefaultReadMaxRetryAttempts
	}
	c.ReadMaxAttempts = readMaxAttempts

	writeMaxAttempts, err := dp.GetInt(cfgKeyRetriesWriteMaxAttempts)
	if err != nil {
		return err
	}
	if writeMaxAttempts < 0 {
		return errors.New("write max retry attempts must be positive")
	}
	if writeMaxAttempts == 0 {
		writeMaxAttempts = retry.DefaultWriteMaxRetryAttempts
	}
	c.WriteMaxAttempts = writeMaxAttempts

	return c.Policy.Set(dp)
}

// SetProviderDefaults is part of config interface implementation.
func (c *RetriesConfig) SetProviderDefaults(_ config.DataProvider) {}

// ReadExecutorOpts returns executor options for read call sites.
func (c *RetriesConfig) ReadExecutorOpts() retry.ExecutorOpts {
	return retry.ExecutorOpts{MaxRetryAttempts: c.ReadMaxAttempts, Policy: c.Policy.GetPolicy()}
}

// WriteExecutorOpts returns executor options for mutation call sites.
func (c *RetriesConfig) WriteExecutorOpts() retry.ExecutorOpts {
	return retry.ExecutorOpts{MaxRetryAttempts: c.WriteMaxAttempts, Policy: c.Policy.GetPolicy()}
}

// Config represents a set of configuration parameters for the resilience layer.
type Config struct {
	Admission AdmissionConfig `mapstructure:"admission"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Retries   RetriesConfig   `mapstructure:"retries"`

	keyPrefix string
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix("")
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix with which all configuration parameters should be presented.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults is part of config interface implementation.
func (c *Config) SetProviderDefaults(_ config.DataProvider) {}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.Admission.Set(config.NewKeyPrefixedDataProvider(dp, c.keyPrefix)); err != nil {
		return err
	}
	if err := c.Dedup.Set(config.NewKeyPrefixedDataProvider(dp, c.keyPrefix)); err != nil {
		return err
	}
	if err := c.Batch.Set(config.NewKeyPrefixedDataProvider(dp, c.keyPrefix)); err != nil {
		return err
	}
	return c.Retries.Set(config.NewKeyPrefixedDataProvider(dp, c.keyPrefix))
}
