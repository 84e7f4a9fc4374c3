// Package search drives one keyword crawl across a historical time range.
// Each run holds a distributed lock for its (keyword, start) identity, walks
// result pages window by window and narrows the window toward the target
// start whenever the provider's page cap is reached.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/lock"
	"github.com/JakeFAU/search-crawler/internal/metrics"
	"github.com/JakeFAU/search-crawler/internal/parser"
	"github.com/JakeFAU/search-crawler/internal/planner"
	"github.com/JakeFAU/search-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/search-crawler/internal/progress"
	"github.com/JakeFAU/search-crawler/internal/retry"
)

// Defaults for Config fields left at zero.
const (
	DefaultLockTTL       = lock.DefaultTTL
	DefaultJitterMax     = 5 * time.Second
	DefaultInlineWaitMax = 60 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
	DefaultQueue         = "raw_data_ready"
	DefaultSourceType    = "search_result"
	DefaultPlatform      = "weibo"
	DefaultHealthCost    = 1.0

	reasonExhausted = "exhausted"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxPages bounds pages per window when a task does not set its own.
	MaxPages      int            `mapstructure:"max_pages"`
	LockTTL       time.Duration  `mapstructure:"lock_ttl"`
	JitterMax     time.Duration  `mapstructure:"jitter_max"`
	InlineWaitMax time.Duration  `mapstructure:"inline_wait_max"`
	FetchTimeout  time.Duration  `mapstructure:"fetch_timeout"`
	UserAgent     string         `mapstructure:"user_agent"`
	Queue         string         `mapstructure:"queue"`
	SourceType    string         `mapstructure:"source_type"`
	Platform      string         `mapstructure:"platform"`
	HealthCost    float64        `mapstructure:"health_cost"`
	RateLimit     ratelimit.Rule `mapstructure:"rate_limit"`
	Retry         retry.Options  `mapstructure:"-"`
	Planner       planner.Config `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	if c.InlineWaitMax <= 0 {
		c.InlineWaitMax = DefaultInlineWaitMax
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.SourceType == "" {
		c.SourceType = DefaultSourceType
	}
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if c.HealthCost <= 0 {
		c.HealthCost = DefaultHealthCost
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		c.RateLimit = ratelimit.Rule{Limit: 30, Window: time.Minute}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultFetchOptions()
	}
	return c
}

// Locker guards a run's identity.
type Locker interface {
	Acquire(ctx context.Context, key string, opts lock.Options) (*lock.Lease, bool, error)
	Release(ctx context.Context, lease *lock.Lease) error
}

// AccountPool hands out and scores crawl credentials.
type AccountPool interface {
	GetBestHealthAccount(ctx context.Context) (*crawler.Account, error)
	DeductHealth(ctx context.Context, id string, delta float64) (float64, error)
	Retire(ctx context.Context, id string, status crawler.AccountStatus) error
}

// Limiter meters requests per account.
type Limiter interface {
	Check(ctx context.Context, key string, rule ratelimit.Rule) (ratelimit.Decision, error)
}

// Deps are the collaborators of an Orchestrator. Emitter, Logger, Jitter and
// LoginDetector are optional.
type Deps struct {
	Locker    Locker
	Accounts  AccountPool
	Limiter   Limiter
	Planner   *planner.Planner
	Fetcher   crawler.PageFetcher
	Parser    crawler.PageParser
	URLs      crawler.URLBuilder
	RawStore  crawler.RawStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Emitter   progress.Emitter
	Logger    *zap.Logger
	// Jitter returns a pause in [0, max); defaults to a uniform draw.
	Jitter func(max time.Duration) time.Duration
	// LoginDetector flags login walls served with a 200.
	LoginDetector func(html string) bool
}

// Orchestrator executes search tasks.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Locker == nil:
		return nil, fmt.Errorf("locker is required")
	case deps.Accounts == nil:
		return nil, fmt.Errorf("account pool is required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("page fetcher is required")
	case deps.Parser == nil:
		return nil, fmt.Errorf("page parser is required")
	case deps.URLs == nil:
		return nil, fmt.Errorf("url builder is required")
	case deps.RawStore == nil:
		return nil, fmt.Errorf("raw store is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Planner == nil {
		deps.Planner = planner.New(cfg.Planner)
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("search")
	if deps.Jitter == nil {
		deps.Jitter = uniformJitter
	}
	if deps.LoginDetector == nil {
		deps.LoginDetector = parser.LooksLikeLogin
	}
	cfg = cfg.withDefaults()
	if cfg.MaxPages <= 0 || cfg.MaxPages > deps.Planner.PageCap() {
		cfg.MaxPages = deps.Planner.PageCap()
	}
	if cfg.Retry.Wait == nil {
		cfg.Retry.Wait = deps.Clock.Sleep
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// LockKey is the distributed lock key for a task.
func LockKey(task crawler.SearchTask) string {
	return "search:lock:" + task.Keyword + ":" + task.StartDate.Format(time.RFC3339)
}

// run carries the mutable state of one Execute call.
type run struct {
	id     string
	task   crawler.SearchTask
	logger *zap.Logger
	out    crawler.CrawlRunOutput
}

// Execute runs task to completion. It never panics and never returns an
// error; failures are reported through the output's Status and ErrorMessage.
func (o *Orchestrator) Execute(ctx context.Context, task crawler.SearchTask) (out crawler.CrawlRunOutput) {
	started := o.deps.Clock.Now()
	r := &run{id: o.runID(ctx), task: task}
	r.logger = o.deps.Logger.With(zap.String("run_id", r.id), zap.String("keyword", task.Keyword))

	metrics.IncActiveRuns()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("search run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			out = r.finish(fmt.Errorf("panic: %v", rec))
			out.Status = crawler.RunStatusFailed
		}
		metrics.DecActiveRuns()
		metrics.ObserveRun(string(out.Status))
		final := out
		o.emit(r, progress.Event{
			Stage:  progress.StageRunDone,
			Window: crawler.TimeWindow{Start: task.StartDate, End: task.EndDate},
			Output: &final,
			Dur:    o.deps.Clock.Now().Sub(started),
			Note:   out.ErrorMessage,
		})
		r.logger.Info("search run finished",
			zap.String("status", string(out.Status)),
			zap.Int("pages", out.TotalPagesProcessed),
			zap.Int("posts", out.TotalPostsFound),
			zap.Int("windows", out.TimeWindowsProcessed),
		)
	}()

	if err := validateTask(task); err != nil {
		return r.finish(err)
	}
	if r.task.MaxPages <= 0 || r.task.MaxPages > o.cfg.MaxPages {
		r.task.MaxPages = o.cfg.MaxPages
	}

	o.emit(r, progress.Event{
		Stage:  progress.StageRunStart,
		Window: crawler.TimeWindow{Start: task.StartDate, End: task.EndDate},
	})

	lease, ok, err := o.deps.Locker.Acquire(ctx, LockKey(task), lock.Options{TTL: o.cfg.LockTTL})
	if err != nil {
		return r.finish(fmt.Errorf("acquire search lock: %w", err))
	}
	if !ok {
		return r.finish(crawler.ErrAlreadyRunning)
	}
	defer func() {
		// Release even when ctx is already canceled.
		if err := o.deps.Locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			r.logger.Warn("release search lock", zap.Error(err))
		}
	}()

	r.logger.Info("search run started",
		zap.Time("start", task.StartDate),
		zap.Time("end", task.EndDate),
		zap.Int("max_pages", r.task.MaxPages),
	)
	return r.finish(o.crawl(ctx, r))
}

func validateTask(task crawler.SearchTask) error {
	var problems []string
	if strings.TrimSpace(task.Keyword) == "" {
		problems = append(problems, "keyword is required")
	}
	if task.StartDate.IsZero() {
		problems = append(problems, "start date is required")
	}
	if task.EndDate.IsZero() {
		problems = append(problems, "end date is required")
	}
	if len(problems) == 0 && task.StartDate.After(task.EndDate) {
		problems = append(problems, "start date must not be after end date")
	}
	if len(problems) > 0 {
		return retry.Permanent(fmt.Errorf("%w: %s", crawler.ErrInvalidTask, strings.Join(problems, ", ")))
	}
	return nil
}

// finish converts the crawl error into the terminal output.
func (r *run) finish(err error) crawler.CrawlRunOutput {
	out := r.out
	switch {
	case err == nil:
		out.Status = crawler.RunStatusSuccess
	case out.TotalPagesProcessed > 0:
		out.Status = crawler.RunStatusPartial
		out.ErrorMessage = errorMessage(err)
	default:
		out.Status = crawler.RunStatusFailed
		out.ErrorMessage = errorMessage(err)
	}
	return out
}

func errorMessage(err error) string {
	var perm *retry.NonRetryableError
	if errors.As(err, &perm) && perm.Err != nil {
		return perm.Err.Error()
	}
	return err.Error()
}

// crawl walks windows from the task's end date back toward its start date.
func (o *Orchestrator) crawl(ctx context.Context, r *run) error {
	window := crawler.TimeWindow{Start: r.task.StartDate, End: r.task.EndDate}
	for !o.deps.Planner.NextTimeRange(window.End, r.task.StartDate).ShouldStop {
		last, reason, err := o.crawlWindow(ctx, r, window)
		r.out.TimeWindowsProcessed++
		if err != nil {
			return err
		}
		if last == nil {
			r.logger.Info("window returned no posts", zap.Time("window_end", window.End))
			return nil
		}

		decision := o.deps.Planner.NextTimeRange(*last, r.task.StartDate)
		if decision.ShouldStop {
			return nil
		}
		next := *decision.Next
		// Posts newer than the window must never move it forward.
		if !next.End.Before(window.End) {
			next.End = planner.TruncateHour(window.End).Add(-time.Hour)
		}
		if reason == "" {
			reason = reasonExhausted
		}
		metrics.ObserveNarrowing(reason)
		o.emit(r, progress.Event{Stage: progress.StageNarrowed, Window: next, Reason: reason})
		r.logger.Debug("window narrowed",
			zap.String("reason", reason),
			zap.Time("end", next.End),
			zap.Time("last_post", *last),
		)
		window = next
	}
	return nil
}

// crawlWindow fetches pages of window in order. It returns the oldest post
// time observed and the narrowing trigger that ended the loop, if any.
func (o *Orchestrator) crawlWindow(ctx context.Context, r *run, window crawler.TimeWindow) (*time.Time, string, error) {
	var oldest *time.Time
	for page := 1; page <= r.task.MaxPages; page++ {
		if page > 1 && o.cfg.JitterMax > 0 {
			if err := o.deps.Clock.Sleep(ctx, o.deps.Jitter(o.cfg.JitterMax)); err != nil {
				return oldest, "", fmt.Errorf("jitter sleep: %w", err)
			}
		}

		pageStart := o.deps.Clock.Now()
		res, accountID, err := o.processPage(ctx, r, window, page)
		if err != nil {
			metrics.ObservePage("error")
			o.emit(r, progress.Event{
				Stage:     progress.StagePageError,
				Window:    window,
				AccountID: accountID,
				Page:      page,
				Dur:       o.deps.Clock.Now().Sub(pageStart),
				Note:      errorMessage(err),
			})
			return oldest, "", fmt.Errorf("page %d: %w", page, err)
		}

		metrics.ObservePage("success")
		r.out.TotalPagesProcessed++
		r.out.TotalPostsFound += len(res.PostIDs)
		if res.LastPostTime != nil && (oldest == nil || res.LastPostTime.Before(*oldest)) {
			t := *res.LastPostTime
			oldest = &t
		}
		o.emit(r, progress.Event{
			Stage:     progress.StagePageDone,
			Window:    window,
			AccountID: accountID,
			Page:      page,
			Posts:     len(res.PostIDs),
			Dur:       o.deps.Clock.Now().Sub(pageStart),
		})

		if reason := o.deps.Planner.NarrowReason(page, res.HasNextPage, res.LastPostTime, window); reason != "" {
			return oldest, reason, nil
		}
		if !res.HasNextPage {
			return oldest, "", nil
		}
	}
	return oldest, "", nil
}

func (o *Orchestrator) emit(r *run, evt progress.Event) {
	evt.RunID = r.id
	evt.TS = o.deps.Clock.Now()
	evt.Keyword = r.task.Keyword
	o.deps.Emitter.Emit(evt)
}

type runIDKey struct{}

// WithRunID makes Execute report the run under id instead of a fresh one.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func (o *Orchestrator) runID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	id, err := o.deps.IDs.NewID()
	if err != nil || id == "" {
		return fmt.Sprintf("run-%d", o.deps.Clock.Now().UnixNano())
	}
	return id
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}
