// Package accounts rotates crawl credentials through a health-scored sorted
// set. Selection pops the healthiest entry atomically, so two callers never
// receive the same account from one pop; the entry is reinserted at its
// unchanged score once validated.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/coordination"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/metrics"
)

const (
	// DefaultKey is the sorted set holding account health scores.
	DefaultKey = "account:health"
	// MaxScore is a fully healthy account.
	MaxScore = 100.0
	// MinScore is an exhausted account.
	MinScore = 0.0
)

var (
	// ErrInvalidDelta rejects health adjustments outside (0, MaxDelta].
	ErrInvalidDelta = errors.New("invalid health delta")
	// ErrNotInPool is returned when adjusting an account that is not rotating.
	ErrNotInPool = errors.New("account not in pool")
)

// Config tunes the pool.
type Config struct {
	Key          string  `mapstructure:"key"`
	InitialScore float64 `mapstructure:"initial_score"`
	MaxAttempts  int     `mapstructure:"max_attempts"`
	MaxDelta     float64 `mapstructure:"max_delta"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Key:          DefaultKey,
		InitialScore: MaxScore,
		MaxAttempts:  10,
		MaxDelta:     10,
	}
}

// Entry is one member of the health set.
type Entry struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Pool selects and scores accounts.
type Pool struct {
	store    coordination.Store
	accounts crawler.AccountStore
	cfg      Config
	logger   *zap.Logger
}

// NewPool builds a Pool. Zero config fields fall back to DefaultConfig.
func NewPool(store coordination.Store, accounts crawler.AccountStore, cfg Config, logger *zap.Logger) (*Pool, error) {
	if store == nil {
		return nil, fmt.Errorf("coordination store is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	def := DefaultConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.InitialScore <= 0 || cfg.InitialScore > MaxScore {
		cfg.InitialScore = def.InitialScore
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = def.MaxDelta
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{store: store, accounts: accounts, cfg: cfg, logger: logger.Named("accounts")}, nil
}

// Initialize seeds every usable account from the durable store at the
// initial score and returns how many were added.
func (p *Pool) Initialize(ctx context.Context) (int, error) {
	active, err := p.accounts.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active accounts: %w", err)
	}
	members := make([]coordination.Z, 0, len(active))
	for _, a := range active {
		if !usable(a) {
			continue
		}
		members = append(members, coordination.Z{Member: a.ID, Score: p.cfg.InitialScore})
	}
	if len(members) == 0 {
		p.logger.Warn("no usable accounts to seed")
		return 0, nil
	}
	if err := p.store.ZAdd(ctx, p.cfg.Key, members...); err != nil {
		return 0, fmt.Errorf("seed account pool: %w", err)
	}
	for _, m := range members {
		metrics.SetAccountHealth(m.Member, m.Score)
	}
	p.logger.Info("account pool seeded", zap.Int("accounts", len(members)))
	return len(members), nil
}

// GetBestHealthAccount pops the healthiest account, validates it against the
// durable store and puts it back at the same score. Invalid entries are
// dropped. An empty pool is re-seeded once. It returns nil without error when
// no usable account is found within MaxAttempts.
func (p *Pool) GetBestHealthAccount(ctx context.Context) (*crawler.Account, error) {
	reseeded := false
	for attempt := 0; attempt < p.cfg.MaxAttempts; {
		z, ok, err := p.store.ZPopMax(ctx, p.cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("pop best account: %w", err)
		}
		if !ok {
			if reseeded {
				break
			}
			reseeded = true
			n, err := p.Initialize(ctx)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				break
			}
			continue
		}

		account, err := p.accounts.Get(ctx, z.Member)
		switch {
		case errors.Is(err, crawler.ErrAccountNotFound):
		case err != nil:
			// Lookup failures are not evidence against the account.
			if addErr := p.store.ZAdd(ctx, p.cfg.Key, z); addErr != nil {
				p.logger.Warn("reinsert account after lookup failure", zap.String("account_id", z.Member), zap.Error(addErr))
			}
			return nil, fmt.Errorf("load account %q: %w", z.Member, err)
		case usable(account):
			if err := p.store.ZAdd(ctx, p.cfg.Key, z); err != nil {
				return nil, fmt.Errorf("reinsert account %q: %w", z.Member, err)
			}
			account.Score = z.Score
			metrics.ObserveAccountSelection("selected")
			metrics.SetAccountHealth(account.ID, z.Score)
			return &account, nil
		}

		attempt++
		metrics.ObserveAccountSelection("dropped")
		p.logger.Info("dropping unusable account from pool",
			zap.String("account_id", z.Member),
			zap.Float64("score", z.Score),
		)
	}
	metrics.ObserveAccountSelection("exhausted")
	p.logger.Warn("no usable account available")
	return nil, nil
}

// DeductHealth lowers an account score by delta, flooring at MinScore.
func (p *Pool) DeductHealth(ctx context.Context, id string, delta float64) (float64, error) {
	return p.adjust(ctx, id, delta, -1)
}

// RecoverHealth raises an account score by delta, capping at MaxScore.
func (p *Pool) RecoverHealth(ctx context.Context, id string, delta float64) (float64, error) {
	return p.adjust(ctx, id, delta, 1)
}

func (p *Pool) adjust(ctx context.Context, id string, delta, sign float64) (float64, error) {
	if delta <= 0 || delta > p.cfg.MaxDelta {
		return 0, fmt.Errorf("%w: %v not in (0, %v]", ErrInvalidDelta, delta, p.cfg.MaxDelta)
	}
	_, ok, err := p.store.ZScore(ctx, p.cfg.Key, id)
	if err != nil {
		return 0, fmt.Errorf("read account %q score: %w", id, err)
	}
	if !ok {
		return 0, fmt.Errorf("%q: %w", id, ErrNotInPool)
	}

	score, err := p.store.ZIncrBy(ctx, p.cfg.Key, sign*delta, id)
	if err != nil {
		return 0, fmt.Errorf("adjust account %q health: %w", id, err)
	}
	clamped := clamp(score)
	if clamped != score {
		if err := p.store.ZAdd(ctx, p.cfg.Key, coordination.Z{Member: id, Score: clamped}); err != nil {
			return 0, fmt.Errorf("clamp account %q health: %w", id, err)
		}
	}
	metrics.SetAccountHealth(id, clamped)
	return clamped, nil
}

// Remove takes an account out of rotation without touching the durable store.
func (p *Pool) Remove(ctx context.Context, id string) error {
	if _, err := p.store.ZRem(ctx, p.cfg.Key, id); err != nil {
		return fmt.Errorf("remove account %q: %w", id, err)
	}
	return nil
}

// Retire marks an account with status in the durable store and removes it
// from rotation.
func (p *Pool) Retire(ctx context.Context, id string, status crawler.AccountStatus) error {
	if err := p.accounts.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("retire account %q: %w", id, err)
	}
	if err := p.Remove(ctx, id); err != nil {
		return err
	}
	p.logger.Warn("account retired", zap.String("account_id", id), zap.String("status", string(status)))
	return nil
}

// Scores returns every rotating account, healthiest first.
func (p *Pool) Scores(ctx context.Context) ([]Entry, error) {
	zs, err := p.store.ZRevRange(ctx, p.cfg.Key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("list account scores: %w", err)
	}
	out := make([]Entry, len(zs))
	for i, z := range zs {
		out[i] = Entry{ID: z.Member, Score: z.Score}
	}
	return out, nil
}

func usable(a crawler.Account) bool {
	return a.Status == crawler.AccountActive && strings.TrimSpace(a.Cookies) != ""
}

func clamp(score float64) float64 {
	switch {
	case score < MinScore:
		return MinScore
	case score > MaxScore:
		return MaxScore
	default:
		return score
	}
}
