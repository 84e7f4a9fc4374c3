package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-crawler/internal/coordination/coordinationtest"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/storage/memory"
)

func active(id string) crawler.Account {
	return crawler.Account{ID: id, Status: crawler.AccountActive, Cookies: "SUB=" + id}
}

func newPool(t *testing.T, accounts ...crawler.Account) (*Pool, *memory.AccountStore, *miniredis.Miniredis) {
	t.Helper()
	store, srv := coordinationtest.New(t)
	durable := memory.NewAccountStore(accounts...)
	pool, err := NewPool(store, durable, Config{}, nil)
	require.NoError(t, err)
	return pool, durable, srv
}

func score(t *testing.T, srv *miniredis.Miniredis, id string) float64 {
	t.Helper()
	s, err := srv.ZScore(DefaultKey, id)
	require.NoError(t, err)
	return s
}

func TestInitializeSeedsUsableAccounts(t *testing.T) {
	t.Parallel()

	pool, _, srv := newPool(t,
		active("a1"),
		active("a2"),
		crawler.Account{ID: "no-cookies", Status: crawler.AccountActive},
		crawler.Account{ID: "banned", Status: crawler.AccountBanned, Cookies: "SUB=x"},
	)

	n, err := pool.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	members, err := srv.ZMembers(DefaultKey)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a1", "a2"}, members)
	require.Equal(t, MaxScore, score(t, srv, "a1"))
}

func TestGetBestHealthAccountReturnsHighestAndReinserts(t *testing.T) {
	t.Parallel()

	pool, _, srv := newPool(t, active("low"), active("high"))
	_, err := srv.ZAdd(DefaultKey, 40, "low")
	require.NoError(t, err)
	_, err = srv.ZAdd(DefaultKey, 90, "high")
	require.NoError(t, err)

	acct, err := pool.GetBestHealthAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, acct)
	require.Equal(t, "high", acct.ID)
	require.Equal(t, 90.0, acct.Score)
	require.Equal(t, "SUB=high", acct.Cookies)
	require.Equal(t, 90.0, score(t, srv, "high"))
}

func TestGetBestHealthAccountReseedsEmptyPool(t *testing.T) {
	t.Parallel()

	pool, _, srv := newPool(t, active("a1"))

	acct, err := pool.GetBestHealthAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, acct)
	require.Equal(t, "a1", acct.ID)
	require.Equal(t, MaxScore, score(t, srv, "a1"))
}

func TestGetBestHealthAccountDropsInvalidEntries(t *testing.T) {
	t.Parallel()

	pool, durable, srv := newPool(t, active("good"), active("expired"))
	durable.Put(crawler.Account{ID: "expired", Status: crawler.AccountInactive, Cookies: "SUB=x"})
	_, _ = srv.ZAdd(DefaultKey, 99, "ghost")
	_, _ = srv.ZAdd(DefaultKey, 95, "expired")
	_, _ = srv.ZAdd(DefaultKey, 50, "good")

	acct, err := pool.GetBestHealthAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, acct)
	require.Equal(t, "good", acct.ID)

	members, err := srv.ZMembers(DefaultKey)
	require.NoError(t, err)
	require.Equal(t, []string{"good"}, members)
}

func TestGetBestHealthAccountGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store, srv := coordinationtest.New(t)
	durable := memory.NewAccountStore(active("last"))
	pool, err := NewPool(store, durable, Config{MaxAttempts: 2}, nil)
	require.NoError(t, err)
	_, _ = srv.ZAdd(DefaultKey, 100, "ghost-1")
	_, _ = srv.ZAdd(DefaultKey, 99, "ghost-2")
	_, _ = srv.ZAdd(DefaultKey, 10, "last")

	acct, err := pool.GetBestHealthAccount(context.Background())
	require.NoError(t, err)
	require.Nil(t, acct)
	require.True(t, srv.Exists(DefaultKey))
}

func TestGetBestHealthAccountEmptyEverywhere(t *testing.T) {
	t.Parallel()

	pool, _, _ := newPool(t)
	acct, err := pool.GetBestHealthAccount(context.Background())
	require.NoError(t, err)
	require.Nil(t, acct)
}

type failingAccounts struct {
	crawler.AccountStore
}

func (failingAccounts) Get(context.Context, string) (crawler.Account, error) {
	return crawler.Account{}, errors.New("db down")
}

func TestGetBestHealthAccountKeepsEntryOnLookupFailure(t *testing.T) {
	t.Parallel()

	store, srv := coordinationtest.New(t)
	pool, err := NewPool(store, failingAccounts{}, Config{}, nil)
	require.NoError(t, err)
	_, _ = srv.ZAdd(DefaultKey, 70, "a1")

	acct, err := pool.GetBestHealthAccount(context.Background())
	require.Error(t, err)
	require.Nil(t, acct)
	require.Equal(t, 70.0, score(t, srv, "a1"))
}

func TestConcurrentPopsAreExclusive(t *testing.T) {
	t.Parallel()

	// Validation fails for every entry, so nothing is reinserted and each
	// pop is observable through the store's Get calls.
	store, srv := coordinationtest.New(t)
	rec := &recordingAccounts{}
	pool, err := NewPool(store, rec, Config{MaxAttempts: 1}, nil)
	require.NoError(t, err)
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		_, _ = srv.ZAdd(DefaultKey, float64(i), id)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.GetBestHealthAccount(context.Background())
		}()
	}
	wg.Wait()

	seen := rec.ids()
	require.Len(t, seen, 8)
	unique := map[string]struct{}{}
	for _, id := range seen {
		unique[id] = struct{}{}
	}
	require.Len(t, unique, 8)
}

type recordingAccounts struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingAccounts) ListActive(context.Context) ([]crawler.Account, error) { return nil, nil }

func (r *recordingAccounts) Get(_ context.Context, id string) (crawler.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, id)
	return crawler.Account{}, crawler.ErrAccountNotFound
}

func (r *recordingAccounts) SetStatus(context.Context, string, crawler.AccountStatus) error {
	return nil
}

func (r *recordingAccounts) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestDeductAndRecoverClamp(t *testing.T) {
	t.Parallel()

	pool, _, srv := newPool(t, active("a1"))
	ctx := context.Background()
	_, _ = srv.ZAdd(DefaultKey, 5, "a1")

	got, err := pool.DeductHealth(ctx, "a1", 3)
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	got, err = pool.DeductHealth(ctx, "a1", 10)
	require.NoError(t, err)
	require.Equal(t, MinScore, got)
	require.Equal(t, MinScore, score(t, srv, "a1"))

	_, _ = srv.ZAdd(DefaultKey, 95, "a1")
	got, err = pool.RecoverHealth(ctx, "a1", 10)
	require.NoError(t, err)
	require.Equal(t, MaxScore, got)
	require.Equal(t, MaxScore, score(t, srv, "a1"))

	got, err = pool.DeductHealth(ctx, "a1", 1)
	require.NoError(t, err)
	require.Equal(t, 99.0, got)
}

func TestAdjustRejectsBadInput(t *testing.T) {
	t.Parallel()

	pool, _, srv := newPool(t, active("a1"))
	ctx := context.Background()
	_, _ = srv.ZAdd(DefaultKey, 50, "a1")

	_, err := pool.DeductHealth(ctx, "a1", 0)
	require.ErrorIs(t, err, ErrInvalidDelta)
	_, err = pool.DeductHealth(ctx, "a1", 11)
	require.ErrorIs(t, err, ErrInvalidDelta)
	_, err = pool.RecoverHealth(ctx, "a1", -1)
	require.ErrorIs(t, err, ErrInvalidDelta)
	_, err = pool.DeductHealth(ctx, "unknown", 1)
	require.ErrorIs(t, err, ErrNotInPool)
	require.False(t, srv.Exists("unknown"))
}

func TestRetireAndScores(t *testing.T) {
	t.Parallel()

	pool, durable, srv := newPool(t, active("a1"), active("a2"))
	ctx := context.Background()
	_, _ = srv.ZAdd(DefaultKey, 30, "a1")
	_, _ = srv.ZAdd(DefaultKey, 80, "a2")

	entries, err := pool.Scores(ctx)
	require.NoError(t, err)
	require.Equal(t, []Entry{{ID: "a2", Score: 80}, {ID: "a1", Score: 30}}, entries)

	require.NoError(t, pool.Retire(ctx, "a2", crawler.AccountInactive))
	stored, err := durable.Get(ctx, "a2")
	require.NoError(t, err)
	require.Equal(t, crawler.AccountInactive, stored.Status)

	entries, err = pool.Scores(ctx)
	require.NoError(t, err)
	require.Equal(t, []Entry{{ID: "a1", Score: 30}}, entries)

	require.Error(t, pool.Retire(ctx, "missing", crawler.AccountBanned))
}

func TestNewPoolValidates(t *testing.T) {
	t.Parallel()

	store, _ := coordinationtest.New(t)
	_, err := NewPool(nil, memory.NewAccountStore(), Config{}, nil)
	require.Error(t, err)
	_, err = NewPool(store, nil, Config{}, nil)
	require.Error(t, err)
}
