package app_test

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/app"
	"github.com/JakeFAU/search-crawler/internal/clock/fake"
	"github.com/JakeFAU/search-crawler/internal/config"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/fetcher"
	memorypublisher "github.com/JakeFAU/search-crawler/internal/publisher/memory"
	memorystorage "github.com/JakeFAU/search-crawler/internal/storage/memory"
)

// resultPage serves one page of posts published before the window start, so a
// run ends after a single page.
type resultPage struct{}

func (resultPage) Fetch(_ context.Context, req crawler.FetchRequest) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", err
	}
	page, _ := strconv.Atoi(u.Query().Get("page"))
	if page > 1 {
		return `<html><body><div class="m-error">no results</div></body></html>`, nil
	}
	html := `<html><body>`
	for i := 0; i < 3; i++ {
		html += fmt.Sprintf(`<div class="card-wrap" mid="m%d"><p class="from"><a>2025年10月01日 0%d:30</a></p></div>`, i, 2+i)
	}
	return html + `</body></html>`, nil
}

func testConfig(t *testing.T, mr *miniredis.Miniredis) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Redis.Address = mr.Addr()
	cfg.Fetcher.Mode = fetcher.ModeHTTP
	cfg.Search.JitterMax = 0
	return cfg
}

func TestNewWiresSearchPipeline(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	accountStore := memorystorage.NewAccountStore(crawler.Account{ID: "acc-1", Status: crawler.AccountActive, Cookies: "SUB=1"})
	clock := fake.New(time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC))

	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.Options{
		Registerer: prometheus.NewRegistry(),
		Clock:      clock,
		Fetcher:    resultPage{},
		Accounts:   accountStore,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	n, err := a.InitializePool(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Contains(t, a.Checks(), "redis")
	require.NoError(t, a.Checks()["redis"](context.Background()))

	out := a.Orchestrator.Execute(context.Background(), crawler.SearchTask{
		Keyword:   "coffee",
		StartDate: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
		MaxPages:  2,
	})
	require.Equal(t, crawler.RunStatusSuccess, out.Status, out.ErrorMessage)
	require.Positive(t, out.TotalPagesProcessed)

	raw, ok := a.RawStore.(*memorystorage.RawStore)
	require.True(t, ok)
	require.Len(t, raw.Documents(), out.TotalPagesProcessed)
	pub, ok := a.Publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	require.Len(t, pub.Messages(), out.TotalPagesProcessed)
}

func TestNewUsesLocalStorage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = t.TempDir()

	a, err := app.New(context.Background(), cfg, nil, app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.NotNil(t, a.Orchestrator)
	require.NotNil(t, a.Fetcher)
	require.IsType(t, memorystorage.NewAccountStore(), a.Accounts)
	require.Nil(t, a.Runs)
}

func TestNewFailsWithoutRedis(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, miniredis.RunT(t))
	cfg.Redis.Address = "127.0.0.1:1"

	_, err := app.New(context.Background(), cfg, nil, app.Options{Registerer: prometheus.NewRegistry()})
	require.ErrorContains(t, err, "connect redis")
}

func TestNewRejectsDuplicateCollectors(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	reg := prometheus.NewRegistry()

	a, err := app.New(context.Background(), cfg, nil, app.Options{Registerer: reg})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	_, err = app.New(context.Background(), cfg, nil, app.Options{Registerer: reg})
	require.ErrorContains(t, err, "register progress collector")
}
