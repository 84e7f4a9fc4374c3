package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("browser fetcher not configured")

// Noop implements crawler.PageFetcher but always fails. It stands in when
// the browser is disabled by configuration.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns ErrNotConfigured.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (string, error) {
	return "", ErrNotConfigured
}
