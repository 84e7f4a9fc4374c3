// Package collyfetcher implements crawler.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/metrics"
	"github.com/JakeFAU/search-crawler/internal/parser"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CookieDomain string        `mapstructure:"cookie_domain"`
}

// Fetcher implements crawler.PageFetcher with a Colly collector. Each fetch
// runs on a clone with the account's cookies and no shared cookie jar.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ crawler.PageFetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	body     string
	finalURL string
	err      error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CookieDomain == "" {
		cfg.CookieDomain = ".weibo.com"
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.DisableCookies()

	transport := newTLSRetryTransport(newHTTPTransport(), logger)
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger.Named("colly_fetcher"),
	}
}

// Fetch executes a single HTTP GET and returns the body. A redirect to a
// login host is reported as crawler.ErrLoginExpired.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (string, error) {
	cookies, err := crawler.ParseCookies(request.Cookies, f.cfg.CookieDomain)
	if err != nil {
		return "", fmt.Errorf("parse cookies: %w", err)
	}
	start := time.Now()
	var result fetchResult
	collector := f.buildCollector(request, crawler.CookieHeader(cookies), &result)
	if err := f.runCollector(ctx, collector, request.URL, &result); err != nil {
		return "", err
	}
	metrics.ObserveFetch("http", time.Since(start))
	if parser.IsLoginURL(result.finalURL) {
		return "", fmt.Errorf("redirected to %s: %w", result.finalURL, crawler.ErrLoginExpired)
	}
	return result.body, nil
}

func (f *Fetcher) buildCollector(request crawler.FetchRequest, cookieHeader string, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.UserAgent = f.cfg.UserAgent
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	f.configureCollectorHooks(collector, cookieHeader, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, cookieHeader string, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		if cookieHeader != "" {
			r.Headers.Set("Cookie", cookieHeader)
		}
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.body = string(r.Body)
		result.finalURL = r.Request.URL.String()
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		result.err = classifyStatus(status, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.err != nil {
			return result.err
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// classifyStatus maps provider status codes onto crawler sentinels.
func classifyStatus(status int, err error) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("status %d: %w", status, crawler.ErrLoginExpired)
	case http.StatusTooManyRequests, http.StatusTeapot:
		return fmt.Errorf("status %d: %w", status, crawler.ErrRateLimited)
	case 0:
		return fmt.Errorf("colly response failed: %w", err)
	default:
		return fmt.Errorf("colly response status %d: %w", status, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
