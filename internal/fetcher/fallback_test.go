package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

type stubFetcher struct {
	html  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, crawler.FetchRequest) (string, error) {
	s.calls++
	return s.html, s.err
}

type markerDetector struct{}

func (markerDetector) NeedsRender(html string) bool { return strings.Contains(html, "shell") }

func TestFallbackUsesHTTPWhenRendered(t *testing.T) {
	t.Parallel()

	httpF := &stubFetcher{html: "<div>results</div>"}
	browser := &stubFetcher{html: "browser"}
	f, err := NewFallback(httpF, browser, markerDetector{}, nil)
	require.NoError(t, err)

	html, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://s.weibo.com"})
	require.NoError(t, err)
	require.Equal(t, "<div>results</div>", html)
	require.Zero(t, browser.calls)
}

func TestFallbackUsesBrowserForShells(t *testing.T) {
	t.Parallel()

	browser := &stubFetcher{html: "rendered"}
	f, err := NewFallback(&stubFetcher{html: "shell"}, browser, markerDetector{}, nil)
	require.NoError(t, err)

	html, err := f.Fetch(context.Background(), crawler.FetchRequest{})
	require.NoError(t, err)
	require.Equal(t, "rendered", html)

	f.http = &stubFetcher{err: errors.New("reset by peer")}
	html, err = f.Fetch(context.Background(), crawler.FetchRequest{})
	require.NoError(t, err)
	require.Equal(t, "rendered", html)
	require.Equal(t, 2, browser.calls)
}

func TestFallbackReturnsAccountErrors(t *testing.T) {
	t.Parallel()

	browser := &stubFetcher{html: "rendered"}
	for _, sentinel := range []error{crawler.ErrLoginExpired, crawler.ErrRateLimited} {
		f, err := NewFallback(&stubFetcher{err: sentinel}, browser, markerDetector{}, nil)
		require.NoError(t, err)
		_, err = f.Fetch(context.Background(), crawler.FetchRequest{})
		require.ErrorIs(t, err, sentinel)
	}
	require.Zero(t, browser.calls)
}

func TestNewFallbackValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFallback(nil, &stubFetcher{}, markerDetector{}, nil)
	require.Error(t, err)
	_, err = NewFallback(&stubFetcher{}, &stubFetcher{}, nil, nil)
	require.Error(t, err)
}
