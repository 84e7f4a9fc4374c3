// Package retry re-invokes fallible operations with configurable backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Backoff selects how the wait between attempts grows.
type Backoff string

// Supported backoff strategies.
const (
	Fixed       Backoff = "fixed"
	Linear      Backoff = "linear"
	Exponential Backoff = "exponential"
)

// Options configures Do.
type Options struct {
	// MaxAttempts counts the first call; values below 1 mean a single attempt.
	MaxAttempts int
	Backoff     Backoff
	Delay       time.Duration
	// MaxDelay caps the computed wait when positive.
	MaxDelay time.Duration
	// Jitter spreads each wait uniformly over [wait/2, wait).
	Jitter bool
	// ShouldRetry filters retryable errors; nil retries everything that is
	// not permanent.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait with the 1-based attempt that failed.
	OnRetry func(err error, attempt int)
	// Wait replaces Sleep between attempts, e.g. with a clock's Sleep.
	Wait func(ctx context.Context, d time.Duration) error
}

// DefaultFetchOptions is the policy wrapped around page fetches.
func DefaultFetchOptions() Options {
	return Options{
		MaxAttempts: 3,
		Backoff:     Exponential,
		Delay:       time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// WaitFor returns the capped wait after the given failed attempt.
func (o Options) WaitFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var wait float64
	switch o.Backoff {
	case Linear:
		wait = float64(o.Delay) * float64(attempt)
	case Exponential:
		wait = float64(o.Delay) * math.Pow(2, float64(attempt-1))
	default:
		wait = float64(o.Delay)
	}
	if o.MaxDelay > 0 && wait > float64(o.MaxDelay) {
		wait = float64(o.MaxDelay)
	}
	return time.Duration(wait)
}

// Do calls op until it succeeds, returns a permanent error, is rejected by
// ShouldRetry, or runs out of attempts. The last error is returned as is.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var zero T
	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		if IsPermanent(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return zero, err
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return zero, err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
		wait := opts.WaitFor(attempt)
		if opts.Jitter {
			wait = jitter(wait)
		}
		sleep := opts.Wait
		if sleep == nil {
			sleep = Sleep
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return zero, errors.Join(err, sleepErr)
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func jitter(wait time.Duration) time.Duration {
	half := wait / 2
	if half <= 0 {
		return wait
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(half)))
	if err != nil {
		return wait
	}
	return half + time.Duration(n.Int64())
}
