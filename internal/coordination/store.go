// Package coordination wraps the shared Redis instance that crawl processes
// use to coordinate: sorted sets for the account pool and rate-limit logs,
// expiring keys for locks, and pipelined batches.
package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps failures to reach the coordination store.
var ErrUnavailable = errors.New("coordination store unavailable")

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

// Store is the contract the orchestration packages depend on. Every method
// maps onto a single atomic store command.
type Store interface {
	ZAdd(ctx context.Context, key string, members ...Z) error
	// ZPopMax removes and returns the highest-scored member. ok is false when
	// the set is empty.
	ZPopMax(ctx context.Context, key string) (z Z, ok bool, err error)
	ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error)
	ZScore(ctx context.Context, key, member string) (score float64, ok bool, err error)
	ZRange(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key, minScore, maxScore string) (int64, error)

	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value only when key is absent. A positive ttl is applied
	// in the same command.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime. Negative values follow Redis: -1
	// for keys without expiry and -2 for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) (int64, error)

	// CompareAndDelete deletes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExpire refreshes the ttl only while key still holds expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)

	// Pipelined queues commands in fn and sends them as one batch. Results
	// handed out by the pipeline are readable after Pipelined returns.
	Pipelined(ctx context.Context, fn func(Pipeline)) error
	Ping(ctx context.Context) error
}

// Pipeline queues commands for a batched round-trip.
type Pipeline interface {
	ZAdd(key string, members ...Z)
	ZRemRangeByScore(key, minScore, maxScore string)
	ZCard(key string) *IntResult
	ZRange(key string, start, stop int64) *ZResult
	Expire(key string, ttl time.Duration)
	Del(keys ...string)
}

// IntResult is an integer reply resolved once the pipeline executes.
type IntResult struct {
	val func() (int64, error)
}

// Val returns the reply or the command error.
func (r *IntResult) Val() (int64, error) {
	if r == nil || r.val == nil {
		return 0, errors.New("pipeline result not available")
	}
	return r.val()
}

// ZResult is a sorted-set reply resolved once the pipeline executes.
type ZResult struct {
	val func() ([]Z, error)
}

// Val returns the reply or the command error.
func (r *ZResult) Val() ([]Z, error) {
	if r == nil || r.val == nil {
		return nil, errors.New("pipeline result not available")
	}
	return r.val()
}
