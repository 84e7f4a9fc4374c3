// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/metrics"
	"github.com/JakeFAU/search-crawler/internal/parser"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultMaxTabs           = 4
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool closed")

// Config controls the browser pool.
type Config struct {
	MaxTabs           int           `mapstructure:"max_tabs"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	CookieDomain      string        `mapstructure:"cookie_domain"`
	WaitSelector      string        `mapstructure:"wait_selector"`
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// Pacer delays navigations per destination host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Pool owns one browser process and hands out tabs. The browser is started
// lazily and restarted when it dies.
type Pool struct {
	cfg    Config
	pacer  Pacer
	logger *zap.Logger
	slots  chan struct{}

	// start launches the browser behind ctx; replaced in tests.
	start func(ctx context.Context) error

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	active        int
	closed        bool
}

var _ crawler.PageFetcher = (*Pool)(nil)

// Tab is one acquired browser tab. Release must be called exactly once.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pool    *Pool
	release sync.Once
}

// Context returns the chromedp context bound to the tab.
func (t *Tab) Context() context.Context {
	return t.ctx
}

// Release closes the tab and frees its slot.
func (t *Tab) Release() {
	t.release.Do(func() {
		t.cancel()
		t.pool.mu.Lock()
		t.pool.active--
		t.pool.mu.Unlock()
		<-t.pool.slots
	})
}

// NewPool validates cfg and returns an idle pool. pacer may be nil.
func NewPool(cfg Config, pacer Pacer, logger *zap.Logger) (*Pool, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.MaxTabs == 0 {
		cfg.MaxTabs = defaultMaxTabs
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.CookieDomain == "" {
		cfg.CookieDomain = ".weibo.com"
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		pacer:  pacer,
		logger: logger.Named("browser_pool"),
		slots:  make(chan struct{}, cfg.MaxTabs),
		start: func(ctx context.Context) error {
			return chromedp.Run(ctx)
		},
	}, nil
}

// Acquire waits for a free slot and opens a tab on a healthy browser. The
// tab is closed when ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.slots
		return nil, ErrPoolClosed
	}
	if err := p.ensureBrowserLocked(); err != nil {
		<-p.slots
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)
	p.active++
	return &Tab{
		ctx: tabCtx,
		cancel: func() {
			stop()
			tabCancel()
		},
		pool: p,
	}, nil
}

func (p *Pool) ensureBrowserLocked() error {
	if p.browserCtx != nil && p.browserCtx.Err() == nil {
		return nil
	}
	if p.browserCtx != nil {
		p.logger.Warn("browser exited, restarting", zap.Int("active_tabs", p.active))
		p.shutdownLocked()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), p.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := p.start(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	return nil
}

func (p *Pool) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if p.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}
	if p.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.ExecPath))
	}
	return opts
}

func (p *Pool) shutdownLocked() {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.browserCtx, p.browserCancel, p.allocCancel = nil, nil, nil
}

// Active returns the number of tabs currently acquired.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Close shuts the browser down. Outstanding tabs are canceled.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.shutdownLocked()
	return nil
}

// Fetch loads request.URL in a fresh tab with the account's cookies and
// returns the rendered HTML.
func (p *Pool) Fetch(ctx context.Context, request crawler.FetchRequest) (string, error) {
	cookies, err := crawler.ParseCookies(request.Cookies, p.cfg.CookieDomain)
	if err != nil {
		return "", fmt.Errorf("parse cookies: %w", err)
	}
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx, request.URL); err != nil {
			return "", err
		}
	}

	tab, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer tab.Release()

	navCtx, cancel := context.WithTimeout(tab.Context(), p.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	var html, finalURL string
	if err := chromedp.Run(navCtx, p.actions(request, cookies, &html, &finalURL)...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	metrics.ObserveFetch("browser", time.Since(start))

	if parser.IsLoginURL(finalURL) {
		return "", fmt.Errorf("redirected to %s: %w", finalURL, crawler.ErrLoginExpired)
	}
	return html, nil
}

func (p *Pool) actions(request crawler.FetchRequest, cookies []crawler.Cookie, html, finalURL *string) []chromedp.Action {
	return []chromedp.Action{
		p.sessionSetupAction(request.UserAgent, cookies),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(p.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Location(finalURL),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

func (p *Pool) sessionSetupAction(userAgent string, cookies []crawler.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		for _, params := range cookieParams(cookies) {
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", params.Name, err)
			}
		}
		return nil
	})
}

func cookieParams(cookies []crawler.Cookie) []*network.SetCookieParams {
	out := make([]*network.SetCookieParams, 0, len(cookies))
	for _, c := range cookies {
		params := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path)
		if c.Expires != nil && *c.Expires > 0 {
			sec := int64(*c.Expires)
			expires := cdp.TimeSinceEpoch(time.Unix(sec, 0))
			params = params.WithExpires(&expires)
		}
		out = append(out, params)
	}
	return out
}
