// Package app builds the long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/accounts"
	"github.com/JakeFAU/search-crawler/internal/api"
	"github.com/JakeFAU/search-crawler/internal/clock/system"
	"github.com/JakeFAU/search-crawler/internal/config"
	"github.com/JakeFAU/search-crawler/internal/coordination"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/search-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/search-crawler/internal/fetcher/detector"
	"github.com/JakeFAU/search-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/search-crawler/internal/hash/sha256"
	"github.com/JakeFAU/search-crawler/internal/id/uuid"
	"github.com/JakeFAU/search-crawler/internal/lock"
	"github.com/JakeFAU/search-crawler/internal/metrics"
	"github.com/JakeFAU/search-crawler/internal/parser"
	"github.com/JakeFAU/search-crawler/internal/planner"
	"github.com/JakeFAU/search-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/search-crawler/internal/progress"
	"github.com/JakeFAU/search-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/search-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/search-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/search-crawler/internal/search"
	"github.com/JakeFAU/search-crawler/internal/storage/gcs"
	"github.com/JakeFAU/search-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/search-crawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/search-crawler/internal/storage/mongo"
	"github.com/JakeFAU/search-crawler/internal/storage/postgres"
	"github.com/JakeFAU/search-crawler/internal/store"
)

// AccountRegistry is an account store that can also register credentials.
type AccountRegistry interface {
	crawler.AccountStore
	Upsert(ctx context.Context, account crawler.Account) error
}

// Options overrides pieces of the wiring, mostly for tests.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default.
	Registerer prometheus.Registerer
	Clock      crawler.Clock
	// Fetcher replaces the configured page fetcher.
	Fetcher crawler.PageFetcher
	// Accounts replaces the configured account store.
	Accounts AccountRegistry
}

// App holds the shared services for the process.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Clock        crawler.Clock
	IDs          *uuid.Generator
	Store        *coordination.Client
	Accounts     AccountRegistry
	Pool         *accounts.Pool
	Runs         store.RunRepository
	RawStore     crawler.RawStore
	Publisher    crawler.Publisher
	Fetcher      crawler.PageFetcher
	Progress     *progress.Hub
	Orchestrator *search.Orchestrator

	checks  map[string]api.Check
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// New connects every configured backend and assembles the orchestrator.
// Resources opened before a failure are released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a = &App{
		Config: cfg,
		Logger: logger,
		Clock:  opts.Clock,
		IDs:    uuid.New(),
		checks: make(map[string]api.Check),
	}
	if a.Clock == nil {
		a.Clock = system.New()
	}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed start", zap.Error(cerr))
			}
			a = nil
		}
	}()

	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("fetcher", cfg.Fetcher.Mode),
	)

	if err := a.openCoordination(ctx); err != nil {
		return a, err
	}
	if err := a.openAccounts(ctx, opts.Accounts); err != nil {
		return a, err
	}
	if err := a.openRawStore(ctx); err != nil {
		return a, err
	}
	if err := a.openPublisher(ctx); err != nil {
		return a, err
	}
	a.Fetcher = opts.Fetcher
	if a.Fetcher == nil {
		if err := a.buildFetcher(); err != nil {
			return a, err
		}
	}
	if err := a.startProgress(opts.Registerer); err != nil {
		return a, err
	}
	if err := a.buildOrchestrator(); err != nil {
		return a, err
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) openCoordination(ctx context.Context) error {
	client, err := coordination.NewClient(ctx, a.Config.Redis.Coordination())
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.Store = client
	a.checks["redis"] = client.Ping
	a.addCloser("redis", func(context.Context) error { return client.Close() })
	return nil
}

func (a *App) openAccounts(ctx context.Context, override AccountRegistry) error {
	if override != nil {
		a.Accounts = override
		return nil
	}
	if a.Config.DB.DSN == "" {
		a.Logger.Warn("db.dsn not set; using in-memory accounts and no run history")
		a.Accounts = memorystorage.NewAccountStore()
		return nil
	}
	pool, err := postgres.Connect(ctx, a.Config.DB)
	if err != nil {
		return err
	}
	a.addCloser("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	a.checks["postgres"] = pool.Ping
	if err := postgres.EnsureSchema(ctx, pool, a.Config.DB.AccountsTable, a.Config.DB.RunsTable); err != nil {
		return err
	}
	accountStore, err := postgres.NewAccountStore(pool, a.Config.DB.AccountsTable)
	if err != nil {
		return err
	}
	runStore, err := postgres.NewRunStore(pool, a.Config.DB.RunsTable)
	if err != nil {
		return err
	}
	a.Accounts = accountStore
	a.Runs = runStore
	return nil
}

func (a *App) openRawStore(ctx context.Context) error {
	switch a.Config.Storage.Backend {
	case config.StorageMemory:
		a.RawStore = memorystorage.NewRawStore()
	case config.StorageLocal:
		rs, err := local.New(a.Config.Storage.Local)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.RawStore = rs
	case config.StorageGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return client.Close() })
		rs, err := gcs.New(client, a.Config.Storage.GCS)
		if err != nil {
			return err
		}
		a.RawStore = rs
	case config.StorageMongo:
		client, err := mongostore.Connect(ctx, a.Config.Mongo)
		if err != nil {
			return err
		}
		a.addCloser("mongo", client.Disconnect)
		a.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		rs, err := mongostore.NewRawStore(client, a.Config.Mongo)
		if err != nil {
			return err
		}
		if err := mongostore.EnsureIndexes(ctx, rs.Collection()); err != nil {
			return err
		}
		a.RawStore = rs
	default:
		return fmt.Errorf("unknown storage backend %q", a.Config.Storage.Backend)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if !a.Config.PubSub.Enabled {
		a.Logger.Info("pubsub disabled; raw-data events stay in memory")
		a.Publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return client.Close() })
	queue := a.Config.Orchestrator().Queue
	if queue == "" {
		queue = search.DefaultQueue
	}
	if err := pubsubpublisher.VerifyTopics(ctx, client, a.Config.PubSub.Publisher(), queue); err != nil {
		return err
	}
	pub, err := pubsubpublisher.New(client, a.Config.PubSub.Publisher())
	if err != nil {
		return err
	}
	a.addCloser("pubsub publishers", func(context.Context) error {
		pub.Stop()
		return nil
	})
	a.Publisher = pub
	return nil
}

func (a *App) buildFetcher() error {
	httpCfg := a.Config.Fetcher.HTTP
	if httpCfg.UserAgent == "" {
		httpCfg.UserAgent = a.Config.Search.UserAgent
	}
	browserCfg := a.Config.Browser
	if browserCfg.UserAgent == "" {
		browserCfg.UserAgent = a.Config.Search.UserAgent
	}

	switch a.Config.Fetcher.Mode {
	case fetcher.ModeHTTP:
		a.Fetcher = collyfetcher.New(httpCfg, a.Logger)
		return nil
	case fetcher.ModeBrowser:
		pool, err := a.browserPool(browserCfg)
		if err != nil {
			return err
		}
		a.Fetcher = pool
		return nil
	case fetcher.ModeAuto:
		var browser crawler.PageFetcher
		pool, err := a.browserPool(browserCfg)
		if err != nil {
			a.Logger.Warn("browser pool unavailable; auto mode will not render", zap.Error(err))
			browser = headless.NewNoop()
		} else {
			browser = pool
		}
		det := detector.NewHeuristic(a.Config.Fetcher.Detector.ScriptThreshold, a.Config.Fetcher.Detector.ContentMarker)
		fb, err := fetcher.NewFallback(collyfetcher.New(httpCfg, a.Logger), browser, det, a.Logger)
		if err != nil {
			return err
		}
		a.Fetcher = fb
		return nil
	default:
		return fmt.Errorf("unknown fetcher mode %q", a.Config.Fetcher.Mode)
	}
}

func (a *App) browserPool(cfg headless.Config) (*headless.Pool, error) {
	pacer := ratelimit.NewHostLimiter(a.Config.RateLimit.Host)
	pool, err := headless.NewPool(cfg, pacer, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init browser pool: %w", err)
	}
	a.addCloser("browser", func(context.Context) error { return pool.Close() })
	return pool, nil
}

func (a *App) startProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(a.Logger), promSink}
	if a.Runs != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(a.Runs, a.Logger))
	}
	a.Progress = progress.NewHub(progress.Config{Logger: a.Logger}, hubSinks...)
	a.addCloser("progress", a.Progress.Close)
	return nil
}

func (a *App) buildOrchestrator() error {
	locker, err := lock.New(a.Store, a.IDs, a.Clock, a.Logger)
	if err != nil {
		return err
	}
	pool, err := accounts.NewPool(a.Store, a.Accounts, a.Config.Accounts, a.Logger)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.NewSlidingWindow(a.Store, a.Clock, a.Logger)
	if err != nil {
		return err
	}
	parserCfg := a.Config.Search.Parser
	parserCfg.Location = a.Config.SearchLocation()

	orch, err := search.New(a.Config.Orchestrator(), search.Deps{
		Locker:    locker,
		Accounts:  pool,
		Limiter:   limiter,
		Planner:   planner.New(a.Config.Search.PlannerConfig()),
		Fetcher:   a.Fetcher,
		Parser:    parser.New(parserCfg, a.Clock.Now),
		URLs:      parser.NewURLBuilder(a.Config.Search.BaseURL),
		RawStore:  a.RawStore,
		Publisher: a.Publisher,
		Hasher:    sha256.New(),
		Clock:     a.Clock,
		IDs:       a.IDs,
		Emitter:   a.Progress,
		Logger:    a.Logger,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	a.Pool = pool
	a.Orchestrator = orch
	return nil
}

// InitializePool loads active accounts into the health set.
func (a *App) InitializePool(ctx context.Context) (int, error) {
	n, err := a.Pool.Initialize(ctx)
	if err != nil {
		return 0, fmt.Errorf("initialize account pool: %w", err)
	}
	a.Logger.Info("account pool initialized", zap.Int("accounts", n))
	return n, nil
}

// Checks returns the readiness probes for the opened backends.
func (a *App) Checks() map[string]api.Check {
	out := make(map[string]api.Check, len(a.checks))
	for k, v := range a.checks {
		out[k] = v
	}
	return out
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
