package util

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff for Retry.
type RetryConfig struct {
	// MaxRetries counts attempts after the first; negative means unlimited.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. When nil,
	// everything except Permanent errors is retried.
	RetryIf func(error) bool
}

// DefaultRetryConfig suits calls to a local node.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// RetryResult reports how a Retry call went. LastError is nil on success.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	// ErrMaxRetriesExceeded wraps the last error once attempts run out.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	// ErrContextCanceled wraps the context error when ctx ends first.
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Retry calls fn until it succeeds, returns an error RetryIf rejects, runs
// out of attempts, or ctx ends.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, res := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return res
}

// RetryWithValue is Retry for functions that produce a value.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = func(err error) bool { return !IsPermanent(err) }
	}

	var zero T
	res := &RetryResult{}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	for {
		if err := ctx.Err(); err != nil {
			res.LastError = fmt.Errorf("%w: %w", ErrContextCanceled, err)
			return zero, res
		}
		res.Attempts++
		v, err := fn()
		if err == nil {
			res.LastError = nil
			return v, res
		}
		res.LastError = err
		if !retryIf(err) {
			return zero, res
		}
		if config.MaxRetries >= 0 && res.Attempts > config.MaxRetries {
			res.LastError = fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
			return zero, res
		}

		timer := time.NewTimer(Backoff(config, res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = fmt.Errorf("%w: %w", ErrContextCanceled, ctx.Err())
			return zero, res
		case <-timer.C:
		}
	}
}

// Backoff returns the delay before the attempt following attempt.
func Backoff(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the default RetryIf gives up on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
