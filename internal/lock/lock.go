// Package lock provides a keyed mutual-exclusion lock backed by the
// coordination store. A lease is owned by the random token written at
// acquisition; only that token can release or extend it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/coordination"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/id/uuid"
	"github.com/JakeFAU/search-crawler/internal/metrics"
)

const (
	// DefaultTTL bounds how long a crashed holder can block a key.
	DefaultTTL = 300 * time.Second
	// DefaultRetryDelay is the base wait between contended attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

var (
	// ErrNotAcquired is returned by WithLock when the key is held elsewhere.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when the lease token no longer owns the key.
	ErrNotHeld = errors.New("lock not held")
)

// Options configures an acquisition.
type Options struct {
	TTL time.Duration `mapstructure:"ttl"`
	// RetryAttempts counts retries after the first try; zero fails fast.
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// Lease is a held lock.
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

// TokenSource produces unique lease tokens.
type TokenSource interface {
	NewToken() (string, error)
}

// Locker acquires and releases leases.
type Locker struct {
	store  coordination.Store
	tokens TokenSource
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Locker. tokens defaults to random UUIDs.
func New(store coordination.Store, tokens TokenSource, clock crawler.Clock, logger *zap.Logger) (*Locker, error) {
	if store == nil {
		return nil, fmt.Errorf("coordination store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if tokens == nil {
		tokens = uuid.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{store: store, tokens: tokens, clock: clock, logger: logger.Named("lock")}, nil
}

// Acquire sets key to a fresh token if it is absent. On contention it waits
// RetryDelay*2^attempt and tries again up to RetryAttempts times. ok is false
// when the lock stayed held; that is not an error.
func (l *Locker) Acquire(ctx context.Context, key string, opts Options) (*Lease, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("lock key is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	token, err := l.tokens.NewToken()
	if err != nil {
		return nil, false, fmt.Errorf("generate lock token: %w", err)
	}

	for attempt := 0; ; attempt++ {
		ok, err := l.store.SetNX(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, false, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			l.logger.Debug("lock acquired", zap.String("key", key), zap.Int("attempt", attempt))
			return &Lease{Key: key, Token: token, TTL: opts.TTL}, true, nil
		}
		if attempt >= opts.RetryAttempts {
			break
		}
		if err := l.clock.Sleep(ctx, opts.RetryDelay*time.Duration(1<<attempt)); err != nil {
			return nil, false, fmt.Errorf("acquire lock %q: %w", key, err)
		}
	}
	metrics.ObserveLockContention()
	l.logger.Info("lock held elsewhere", zap.String("key", key))
	return nil, false, nil
}

// Release deletes the key only while it still holds the lease token.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return ErrNotHeld
	}
	ok, err := l.store.CompareAndDelete(ctx, lease.Key, lease.Token)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", lease.Key, err)
	}
	if !ok {
		return fmt.Errorf("release lock %q: %w", lease.Key, ErrNotHeld)
	}
	return nil
}

// Extend resets the lease ttl if the key still exists with the lease token.
func (l *Locker) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	if lease == nil {
		return ErrNotHeld
	}
	if ttl <= 0 {
		ttl = lease.TTL
	}
	ok, err := l.store.CompareAndExpire(ctx, lease.Key, lease.Token, ttl)
	if err != nil {
		return fmt.Errorf("extend lock %q: %w", lease.Key, err)
	}
	if !ok {
		return fmt.Errorf("extend lock %q: %w", lease.Key, ErrNotHeld)
	}
	lease.TTL = ttl
	return nil
}

// Held reports whether the lease token still owns its key.
func (l *Locker) Held(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	val, ok, err := l.store.Get(ctx, lease.Key)
	if err != nil {
		return false, fmt.Errorf("check lock %q: %w", lease.Key, err)
	}
	return ok && val == lease.Token, nil
}

// WithLock runs fn while holding key and releases it on every exit path,
// including panics. ErrNotAcquired is returned when the key stayed held.
func (l *Locker) WithLock(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) (err error) {
	lease, ok, err := l.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", key, ErrNotAcquired)
	}
	defer func() {
		if relErr := l.Release(context.WithoutCancel(ctx), lease); relErr != nil {
			l.logger.Warn("lock release failed", zap.String("key", key), zap.Error(relErr))
			if err == nil {
				err = relErr
			}
		}
	}()
	return fn(ctx)
}
