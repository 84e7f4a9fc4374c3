package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	retries := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 3,
		Backoff:     Fixed,
		Delay:       10 * time.Millisecond,
		OnRetry: func(err error, attempt int) {
			retries++
			require.ErrorIs(t, err, errTransient)
			require.Equal(t, retries, attempt)
		},
	}, func(context.Context) error {
		calls++
		if calls <= 2 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, retries)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, errTransient)
	})

	require.ErrorIs(t, err, errTransient)
	require.EqualError(t, err, "attempt 3: transient")
	require.Equal(t, 3, calls)
}

func TestDoPermanentBypassesRetry(t *testing.T) {
	t.Parallel()

	fatal := errors.New("missing keyword")
	calls := 0
	onRetry := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		ShouldRetry: func(error) bool { return true },
		OnRetry:     func(error, int) { onRetry++ },
	}, func(context.Context) error {
		calls++
		return fmt.Errorf("fetch: %w", Permanent(fatal))
	})

	require.Error(t, err)
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
	require.Zero(t, onRetry)
}

func TestDoShouldRetryFalseStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 4,
		ShouldRetry: func(err error) bool { return !errors.Is(err, errTransient) },
	}, func(context.Context) error {
		calls++
		return errTransient
	})

	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCanceledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Options{
		MaxAttempts: 5,
		Delay:       time.Hour,
		OnRetry:     func(error, int) { cancel() },
	}, func(context.Context) error {
		calls++
		return errTransient
	})

	require.ErrorIs(t, err, errTransient)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoValueReturnsResult(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := DoValue(context.Background(), Options{MaxAttempts: 2}, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "<html/>", nil
	})

	require.NoError(t, err)
	require.Equal(t, "<html/>", got)
	require.Equal(t, 2, calls)
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		attempt int
		want    time.Duration
	}{
		{"fixed", Options{Backoff: Fixed, Delay: 100 * time.Millisecond}, 3, 100 * time.Millisecond},
		{"linear", Options{Backoff: Linear, Delay: 100 * time.Millisecond}, 3, 300 * time.Millisecond},
		{"exponential", Options{Backoff: Exponential, Delay: 100 * time.Millisecond}, 3, 400 * time.Millisecond},
		{"capped", Options{Backoff: Exponential, Delay: time.Second, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"attempt floor", Options{Backoff: Linear, Delay: time.Second}, 0, time.Second},
		{"unknown falls back to fixed", Options{Backoff: "weird", Delay: time.Second}, 4, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.opts.WaitFor(tt.attempt))
		})
	}
}

func TestJitterStaysInRange(t *testing.T) {
	t.Parallel()

	for range 50 {
		got := jitter(100 * time.Millisecond)
		require.GreaterOrEqual(t, got, 50*time.Millisecond)
		require.Less(t, got, 100*time.Millisecond)
	}
}

func TestPermanentHelpers(t *testing.T) {
	t.Parallel()

	require.NoError(t, Permanent(nil))
	base := errors.New("boom")
	wrapped := Permanent(base)
	require.Same(t, wrapped, Permanent(wrapped))
	require.EqualError(t, wrapped, "non-retryable: boom")
	require.False(t, IsPermanent(base))
	require.True(t, IsPermanent(fmt.Errorf("ctx: %w", wrapped)))
}

func TestDoUsesInjectedWait(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	err := Do(context.Background(), Options{
		MaxAttempts: 3,
		Backoff:     Exponential,
		Delay:       time.Hour,
		Wait: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}, func(context.Context) error {
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, []time.Duration{time.Hour, 2 * time.Hour}, waits)
}
