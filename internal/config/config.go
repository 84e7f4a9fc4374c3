// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/search-crawler/internal/accounts"
	"github.com/JakeFAU/search-crawler/internal/coordination"
	"github.com/JakeFAU/search-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/search-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/search-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/search-crawler/internal/parser"
	"github.com/JakeFAU/search-crawler/internal/planner"
	"github.com/JakeFAU/search-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/search-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/search-crawler/internal/retry"
	"github.com/JakeFAU/search-crawler/internal/search"
	"github.com/JakeFAU/search-crawler/internal/storage/gcs"
	"github.com/JakeFAU/search-crawler/internal/storage/local"
	mongostore "github.com/JakeFAU/search-crawler/internal/storage/mongo"
	"github.com/JakeFAU/search-crawler/internal/storage/postgres"
)

// Storage backends for raw documents.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMongo  = "mongo"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Redis     RedisConfig       `mapstructure:"redis"`
	DB        postgres.Config   `mapstructure:"db"`
	Mongo     mongostore.Config `mapstructure:"mongo"`
	Storage   StorageConfig     `mapstructure:"storage"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Browser   headless.Config   `mapstructure:"browser"`
	Fetcher   FetcherConfig     `mapstructure:"fetcher"`
	Search    SearchConfig      `mapstructure:"search"`
	Accounts  accounts.Config   `mapstructure:"accounts"`
	RateLimit RateLimitConfig   `mapstructure:"ratelimit"`
	Lock      LockConfig        `mapstructure:"lock"`
	Retry     RetryConfig       `mapstructure:"retry"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Tasks     []TaskConfig      `mapstructure:"tasks"`
}

// ServerConfig controls the health and metrics HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RedisConfig locates the coordination store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Coordination converts the section into client settings.
func (r RedisConfig) Coordination() coordination.Config {
	return coordination.Config{
		Address:  r.Address,
		Password: r.Password,
		DB:       r.DB,
		PoolSize: r.PoolSize,
	}
}

// StorageConfig selects where raw documents are written.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// PubSubConfig holds metadata for raw-data-ready notifications.
type PubSubConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Topics maps logical queue names onto topic ids.
	Topics    map[string]string `mapstructure:"topics"`
	ProjectID string            `mapstructure:"project_id"`
}

// Publisher converts the section into publisher settings.
func (p PubSubConfig) Publisher() pubsubpublisher.Config {
	return pubsubpublisher.Config{ProjectID: p.ProjectID, Topics: p.Topics}
}

// FetcherConfig chooses how result pages are downloaded.
type FetcherConfig struct {
	Mode     string              `mapstructure:"mode"`
	HTTP     collyfetcher.Config `mapstructure:"http"`
	Detector DetectorConfig      `mapstructure:"detector"`
}

// DetectorConfig tunes the auto-mode render heuristic.
type DetectorConfig struct {
	ScriptThreshold int    `mapstructure:"script_threshold"`
	ContentMarker   string `mapstructure:"content_marker"`
}

// SearchConfig governs the orchestrator and the result pages it reads.
type SearchConfig struct {
	search.Config `mapstructure:",squash"`
	PageCap       int           `mapstructure:"page_cap"`
	GapThreshold  time.Duration `mapstructure:"gap_threshold"`
	BaseURL       string        `mapstructure:"base_url"`
	Location      string        `mapstructure:"location"`
	Parser        parser.Config `mapstructure:"parser"`
}

// PlannerConfig converts the narrowing knobs.
func (s SearchConfig) PlannerConfig() planner.Config {
	return planner.Config{PageCap: s.PageCap, GapThreshold: s.GapThreshold}
}

// RateLimitConfig bounds per-account requests and per-host navigations.
type RateLimitConfig struct {
	Account ratelimit.Rule       `mapstructure:"account"`
	Host    ratelimit.HostConfig `mapstructure:"host"`
}

// LockConfig controls the run lock.
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RetryConfig is the page-fetch retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     string        `mapstructure:"backoff"`
	Delay       time.Duration `mapstructure:"delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      bool          `mapstructure:"jitter"`
}

// Options converts the section into retry options.
func (r RetryConfig) Options() retry.Options {
	return retry.Options{
		MaxAttempts: r.MaxAttempts,
		Backoff:     retry.Backoff(r.Backoff),
		Delay:       r.Delay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}

// SchedulerConfig controls the dispatcher that runs scheduled tasks.
type SchedulerConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Workers    int  `mapstructure:"workers"`
	QueueDepth int  `mapstructure:"queue_depth"`
}

// TaskConfig is one recurring keyword search. Lookback sets how far before
// the trigger time the target range starts.
type TaskConfig struct {
	Keyword  string        `mapstructure:"keyword"`
	Schedule string        `mapstructure:"schedule"`
	Lookback time.Duration `mapstructure:"lookback"`
	MaxPages int           `mapstructure:"max_pages"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("db.accounts_table", postgres.DefaultAccountsTable)
	v.SetDefault("db.runs_table", postgres.DefaultRunsTable)
	v.SetDefault("mongo.database", mongostore.DefaultDatabase)
	v.SetDefault("mongo.collection", mongostore.DefaultCollection)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("browser.max_tabs", 4)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.wait_selector", "body")
	v.SetDefault("fetcher.mode", fetcher.ModeBrowser)
	v.SetDefault("fetcher.http.timeout", 30*time.Second)
	v.SetDefault("search.page_cap", planner.DefaultPageCap)
	v.SetDefault("search.gap_threshold", planner.DefaultGapThreshold)
	v.SetDefault("search.max_pages", planner.DefaultPageCap)
	v.SetDefault("search.jitter_max", search.DefaultJitterMax)
	v.SetDefault("search.inline_wait_max", search.DefaultInlineWaitMax)
	v.SetDefault("search.fetch_timeout", search.DefaultFetchTimeout)
	v.SetDefault("search.queue", search.DefaultQueue)
	v.SetDefault("search.platform", search.DefaultPlatform)
	v.SetDefault("search.base_url", parser.DefaultSearchBase)
	v.SetDefault("search.location", "Asia/Shanghai")
	v.SetDefault("accounts.key", accounts.DefaultKey)
	v.SetDefault("accounts.initial_score", accounts.MaxScore)
	v.SetDefault("accounts.max_attempts", 10)
	v.SetDefault("accounts.max_delta", 10)
	v.SetDefault("ratelimit.account.limit", 30)
	v.SetDefault("ratelimit.account.window", time.Minute)
	v.SetDefault("ratelimit.host.rps", 1)
	v.SetDefault("ratelimit.host.burst", 2)
	v.SetDefault("lock.ttl", search.DefaultLockTTL)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", string(retry.Exponential))
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("scheduler.workers", 2)
	v.SetDefault("scheduler.queue_depth", 64)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case StorageMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	switch c.Fetcher.Mode {
	case fetcher.ModeBrowser, fetcher.ModeHTTP, fetcher.ModeAuto:
	default:
		return fmt.Errorf("unknown fetcher.mode %q", c.Fetcher.Mode)
	}
	if c.Fetcher.Mode != fetcher.ModeHTTP && c.Browser.MaxTabs <= 0 {
		return fmt.Errorf("browser.max_tabs must be > 0")
	}
	if c.Search.PageCap <= 0 {
		return fmt.Errorf("search.page_cap must be > 0")
	}
	if _, err := time.LoadLocation(c.Search.Location); err != nil {
		return fmt.Errorf("search.location: %w", err)
	}
	if err := c.RateLimit.Account.Validate(); err != nil {
		return fmt.Errorf("ratelimit.account: %w", err)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be > 0")
	}
	switch retry.Backoff(c.Retry.Backoff) {
	case retry.Fixed, retry.Linear, retry.Exponential:
	default:
		return fmt.Errorf("unknown retry.backoff %q", c.Retry.Backoff)
	}
	if c.Scheduler.Enabled && c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0 when the scheduler is enabled")
	}
	schedules := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for i, task := range c.Tasks {
		if strings.TrimSpace(task.Keyword) == "" {
			return fmt.Errorf("tasks[%d].keyword is required", i)
		}
		if _, err := schedules.Parse(task.Schedule); err != nil {
			return fmt.Errorf("tasks[%d].schedule: %w", i, err)
		}
		if task.Lookback <= 0 {
			return fmt.Errorf("tasks[%d].lookback must be > 0", i)
		}
	}
	return nil
}

// SearchLocation resolves the provider time zone; Validate has already
// checked it.
func (c Config) SearchLocation() *time.Location {
	loc, err := time.LoadLocation(c.Search.Location)
	if err != nil {
		return parser.DefaultLocation()
	}
	return loc
}

// Orchestrator assembles the orchestrator settings from the search, lock,
// rate limit and retry sections.
func (c Config) Orchestrator() search.Config {
	cfg := c.Search.Config
	cfg.LockTTL = c.Lock.TTL
	cfg.RateLimit = c.RateLimit.Account
	cfg.Retry = c.Retry.Options()
	cfg.Planner = c.Search.PlannerConfig()
	return cfg
}
