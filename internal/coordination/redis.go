package coordination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectionTimeout = 5 * time.Second

var (
	compareAndDeleteScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	compareAndExpireScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Client implements Store on top of go-redis.
type Client struct {
	rdb redis.UniversalClient
}

var _ Store = (*Client)(nil)

// NewClient dials Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithRedis wraps an existing go-redis client (primarily for testing).
func NewWithRedis(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// ZAdd adds or updates members with their scores.
func (c *Client) ZAdd(ctx context.Context, key string, members ...Z) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.rdb.ZAdd(ctx, key, toRedisZ(members)...).Err(); err != nil {
		return wrap("zadd", err)
	}
	return nil
}

// ZPopMax atomically removes the highest-scored member.
func (c *Client) ZPopMax(ctx context.Context, key string) (Z, bool, error) {
	res, err := c.rdb.ZPopMax(ctx, key, 1).Result()
	if err != nil {
		return Z{}, false, wrap("zpopmax", err)
	}
	if len(res) == 0 {
		return Z{}, false, nil
	}
	return fromRedisZ(res[0]), true, nil
}

// ZIncrBy adds delta to member's score and returns the new score.
func (c *Client) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	score, err := c.rdb.ZIncrBy(ctx, key, delta, member).Result()
	if err != nil {
		return 0, wrap("zincrby", err)
	}
	return score, nil
}

// ZScore returns a member's score.
func (c *Client) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := c.rdb.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("zscore", err)
	}
	return score, true, nil
}

// ZRange returns members by ascending score, with scores.
func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	res, err := c.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("zrange", err)
	}
	return fromRedisZSlice(res), nil
}

// ZRevRange returns members by descending score, with scores.
func (c *Client) ZRevRange(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	res, err := c.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("zrevrange", err)
	}
	return fromRedisZSlice(res), nil
}

// ZRem removes members and returns how many existed.
func (c *Client) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := c.rdb.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, wrap("zrem", err)
	}
	return n, nil
}

// ZCard returns the set cardinality.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("zcard", err)
	}
	return n, nil
}

// ZRemRangeByScore removes members with scores inside [minScore, maxScore].
func (c *Client) ZRemRangeByScore(ctx context.Context, key, minScore, maxScore string) (int64, error) {
	n, err := c.rdb.ZRemRangeByScore(ctx, key, minScore, maxScore).Result()
	if err != nil {
		return 0, wrap("zremrangebyscore", err)
	}
	return n, nil
}

// Get reads a string key.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", err)
	}
	return val, true, nil
}

// Set writes a string key without expiry.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return wrap("set", err)
	}
	return nil
}

// SetEX writes a string key with expiry.
func (c *Client) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return wrap("setex", err)
	}
	return nil
}

// SetNX writes key only if absent.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrap("setnx", err)
	}
	return ok, nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", err)
	}
	return n == 1, nil
}

// Expire sets a ttl on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrap("expire", err)
	}
	return ok, nil
}

// TTL returns the remaining key lifetime.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, wrap("ttl", err)
	}
	return ttl, nil
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrap("del", err)
	}
	return n, nil
}

// CompareAndDelete runs an atomic get-compare-del script.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, c.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, wrap("compare and delete", err)
	}
	return n == 1, nil
}

// CompareAndExpire runs an atomic get-compare-pexpire script.
func (c *Client) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpireScript.Run(ctx, c.rdb, []string{key}, expected, ttl.Milliseconds()).Int()
	if err != nil {
		return false, wrap("compare and expire", err)
	}
	return n == 1, nil
}

// Pipelined batches the commands queued by fn into one round-trip.
func (c *Client) Pipelined(ctx context.Context, fn func(Pipeline)) error {
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		fn(&pipeline{ctx: ctx, p: p})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return wrap("pipeline", err)
	}
	return nil
}

type pipeline struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (p *pipeline) ZAdd(key string, members ...Z) {
	if len(members) == 0 {
		return
	}
	p.p.ZAdd(p.ctx, key, toRedisZ(members)...)
}

func (p *pipeline) ZRemRangeByScore(key, minScore, maxScore string) {
	p.p.ZRemRangeByScore(p.ctx, key, minScore, maxScore)
}

func (p *pipeline) ZCard(key string) *IntResult {
	cmd := p.p.ZCard(p.ctx, key)
	return &IntResult{val: func() (int64, error) {
		n, err := cmd.Result()
		if err != nil {
			return 0, wrap("zcard", err)
		}
		return n, nil
	}}
}

func (p *pipeline) ZRange(key string, start, stop int64) *ZResult {
	cmd := p.p.ZRangeWithScores(p.ctx, key, start, stop)
	return &ZResult{val: func() ([]Z, error) {
		res, err := cmd.Result()
		if err != nil {
			return nil, wrap("zrange", err)
		}
		return fromRedisZSlice(res), nil
	}}
}

func (p *pipeline) Expire(key string, ttl time.Duration) {
	p.p.PExpire(p.ctx, key, ttl)
}

func (p *pipeline) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	p.p.Del(p.ctx, keys...)
}

// FormatScore renders a score bound for ZRemRangeByScore style commands.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func toRedisZ(members []Z) []redis.Z {
	out := make([]redis.Z, len(members))
	for i, m := range members {
		out[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return out
}

func fromRedisZ(z redis.Z) Z {
	member, ok := z.Member.(string)
	if !ok {
		member = fmt.Sprint(z.Member)
	}
	return Z{Member: member, Score: z.Score}
}

func fromRedisZSlice(in []redis.Z) []Z {
	out := make([]Z, len(in))
	for i, z := range in {
		out[i] = fromRedisZ(z)
	}
	return out
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
