package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with exponential backoff
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries, -1 = unlimited)
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier is the factor by which delay increases (default: 2.0)
	Multiplier float64
	// Jitter adds randomness to delays (0.0 - 1.0)
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. Nil retries everything.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// ChainRetryConfig is used for JSON-RPC reads and receipt polling. Errors
// marked non-retryable (reverts, bad arguments) stop immediately.
func ChainRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
		RetryIf:    DefaultRetryIf(),
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	// ErrMaxRetriesExceeded is joined onto the last error once attempts run out
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	// ErrContextCanceled is joined onto ctx.Err() when the context ends between attempts
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Retry executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, runs out of attempts or ctx is done.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	if config == nil {
		config = DefaultRetryConfig()
	}

	result := &RetryResult{}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	for {
		result.Attempts++

		err := fn()
		if err == nil {
			result.LastError = nil
			return result
		}
		result.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return result
		}
		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			return result
		}

		timer := time.NewTimer(calculateDelay(config, result.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			return result
		case <-timer.C:
		}
	}
}

// RetryWithValue is Retry for functions that produce a value.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	var value T
	result := Retry(ctx, config, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if result.LastError != nil {
		var zero T
		return zero, result
	}
	return value, result
}

// calculateDelay returns baseDelay * multiplier^(attempt-1), jittered and clamped.
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		jitterRange := delay * config.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

// NonRetryableError wraps an error and marks it as non-retryable
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// MarkNonRetryable marks an error as non-retryable
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// DefaultRetryIf retries all errors except non-retryable ones
func DefaultRetryIf() func(error) bool {
	return func(err error) bool {
		return !IsNonRetryable(err)
	}
}
