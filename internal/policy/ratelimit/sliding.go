// Package ratelimit enforces request budgets: a Redis sliding-window log per
// account shared by every crawler process, and an in-process token bucket per
// host that paces browser navigations.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/coordination"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/metrics"
)

const keyPrefix = "ratelimit:"

// Rule bounds the number of requests admitted inside a trailing window.
type Rule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Validate ensures the rule is usable.
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if r.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest logged request leaves the window. It is only
	// set on rejection.
	ResetAt time.Time
}

// RetryAfter returns how long to wait from now until ResetAt.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetAt.IsZero() {
		return 0
	}
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// SlidingWindow is a sliding-window log limiter on a coordination store.
type SlidingWindow struct {
	store  coordination.Store
	clock  crawler.Clock
	logger *zap.Logger
	seq    atomic.Uint64
}

// NewSlidingWindow builds a limiter. clock supplies request instants.
func NewSlidingWindow(store coordination.Store, clock crawler.Clock, logger *zap.Logger) (*SlidingWindow, error) {
	if store == nil {
		return nil, fmt.Errorf("coordination store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlidingWindow{store: store, clock: clock, logger: logger.Named("ratelimit")}, nil
}

// Check prunes entries older than the window, then admits and logs the
// request if fewer than rule.Limit remain. Store failures admit the request.
func (s *SlidingWindow) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	redisKey := keyPrefix + key
	now := s.clock.Now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - rule.Window.Milliseconds()

	var (
		card   *coordination.IntResult
		oldest *coordination.ZResult
	)
	err := s.store.Pipelined(ctx, func(p coordination.Pipeline) {
		p.ZRemRangeByScore(redisKey, "-inf", coordination.FormatScore(float64(windowStart)))
		card = p.ZCard(redisKey)
		oldest = p.ZRange(redisKey, 0, 0)
	})
	if err != nil {
		return s.failOpen(key, rule, err), nil
	}
	count, err := card.Val()
	if err != nil {
		return s.failOpen(key, rule, err), nil
	}

	if count >= int64(rule.Limit) {
		first, err := oldest.Val()
		if err != nil {
			return s.failOpen(key, rule, err), nil
		}
		resetAt := now.Add(rule.Window)
		if len(first) > 0 {
			resetAt = time.UnixMilli(int64(first[0].Score)).Add(rule.Window).UTC()
		}
		metrics.ObserveRateLimitRejection()
		s.logger.Debug("request rejected",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Time("reset_at", resetAt),
		)
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), s.seq.Add(1))
	err = s.store.Pipelined(ctx, func(p coordination.Pipeline) {
		p.ZAdd(redisKey, coordination.Z{Member: member, Score: float64(nowMs)})
		p.Expire(redisKey, 2*rule.Window)
	})
	if err != nil {
		return s.failOpen(key, rule, err), nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - int(count) - 1}, nil
}

// Reset forgets every logged request for key.
func (s *SlidingWindow) Reset(ctx context.Context, key string) error {
	if _, err := s.store.Del(ctx, keyPrefix+key); err != nil {
		return fmt.Errorf("reset rate limit %q: %w", key, err)
	}
	return nil
}

func (s *SlidingWindow) failOpen(key string, rule Rule, err error) Decision {
	metrics.ObserveRateLimitFailOpen()
	s.logger.Warn("rate limit store unavailable, admitting request",
		zap.String("key", key),
		zap.Error(err),
	)
	return Decision{Allowed: true, Remaining: rule.Limit - 1}
}
