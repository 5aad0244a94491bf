// Package retry provides generic exponential-backoff retry helpers. No other
// package in this module imports it: the sync engine retries a failed journal
// row on a later drain instead, bounded by syncengine.MaxAttempts and with no
// backoff delay beyond the drain interval.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/logging"
)

// Func is an operation that can be retried.
type Func func() error

// FuncWithResult is an operation that returns a value and can be retried.
type FuncWithResult[T any] func() (T, error)

// RetryableError reports whether an error is transient and worth retrying.
type RetryableError func(error) bool

// Config configures backoff behavior.
type Config struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          float64
	RetryableErrors []RetryableError
}

// DefaultConfig retries network and operation failures up to
// 3 times with exponential backoff, matching the transport policy in spec §7.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableErrors: []RetryableError{
			func(err error) bool { return ferrors.IsNetworkError(err) },
			func(err error) bool { return ferrors.IsOperationError(err) },
		},
	}
}

func shouldRetry(err error, cfg Config) bool {
	for _, r := range cfg.RetryableErrors {
		if r(err) {
			return true
		}
	}
	return false
}

func nextDelay(delay time.Duration, cfg Config) time.Duration {
	jitterRange := float64(delay) * cfg.Jitter
	jitterAmount := time.Duration(rand.Float64() * jitterRange)
	actual := delay + jitterAmount
	delay = time.Duration(float64(delay) * cfg.Multiplier)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return actual
}

// Do retries op with exponential backoff until it succeeds, a non-retryable
// error is returned, or MaxRetries is exhausted.
func Do(ctx context.Context, op Func, cfg Config) error {
	delay := cfg.InitialDelay
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !shouldRetry(err, cfg) || attempt == cfg.MaxRetries {
			return err
		}
		wait := nextDelay(delay, cfg)
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		logging.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", wait).Msg("operation failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ferrors.Wrap(ctx.Err(), "retry canceled by context")
		}
	}
	return err
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, op FuncWithResult[T], cfg Config) (T, error) {
	delay := cfg.InitialDelay
	var result T
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if result, err = op(); err == nil {
			return result, nil
		}
		if !shouldRetry(err, cfg) || attempt == cfg.MaxRetries {
			return result, err
		}
		wait := nextDelay(delay, cfg)
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		logging.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", wait).Msg("operation failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			var zero T
			return zero, ferrors.Wrap(ctx.Err(), "retry canceled by context")
		}
	}
	return result, err
}
