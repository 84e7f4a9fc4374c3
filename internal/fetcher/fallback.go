// Package fetcher composes page fetchers.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// Fetch modes selectable from configuration.
const (
	ModeBrowser = "browser"
	ModeHTTP    = "http"
	ModeAuto    = "auto"
)

// RenderDetector reports whether an HTTP-fetched page needs a browser.
type RenderDetector interface {
	NeedsRender(html string) bool
}

// Fallback fetches over HTTP first and re-fetches through the browser when
// the detector flags the page.
type Fallback struct {
	http     crawler.PageFetcher
	browser  crawler.PageFetcher
	detector RenderDetector
	logger   *zap.Logger
}

var _ crawler.PageFetcher = (*Fallback)(nil)

// NewFallback wires the HTTP and browser fetchers together.
func NewFallback(http, browser crawler.PageFetcher, detector RenderDetector, logger *zap.Logger) (*Fallback, error) {
	if http == nil || browser == nil {
		return nil, fmt.Errorf("http and browser fetchers are required")
	}
	if detector == nil {
		return nil, fmt.Errorf("render detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{http: http, browser: browser, detector: detector, logger: logger.Named("fallback_fetcher")}, nil
}

// Fetch implements crawler.PageFetcher. Login and rate-limit failures from
// the HTTP path are returned as is; other HTTP failures fall through to the
// browser.
func (f *Fallback) Fetch(ctx context.Context, request crawler.FetchRequest) (string, error) {
	html, err := f.http.Fetch(ctx, request)
	switch {
	case err == nil && !f.detector.NeedsRender(html):
		return html, nil
	case errors.Is(err, crawler.ErrLoginExpired), errors.Is(err, crawler.ErrRateLimited):
		return "", err
	case ctx.Err() != nil:
		return "", fmt.Errorf("http fetch: %w", err)
	case err != nil:
		f.logger.Debug("http fetch failed, using browser", zap.String("url", request.URL), zap.Error(err))
	default:
		f.logger.Debug("page needs rendering, using browser", zap.String("url", request.URL))
	}
	return f.browser.Fetch(ctx, request)
}
