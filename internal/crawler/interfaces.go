package crawler

import (
	"context"
	"time"
)

// PageFetcher loads a page with the given credentials and returns its HTML.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (string, error)
}

// PageParser extracts post identifiers and pagination hints from raw HTML.
type PageParser interface {
	Parse(html string) (CrawlPageResult, error)
}

// RawStore persists raw pages and returns the generated document id.
type RawStore interface {
	Save(ctx context.Context, doc RawDocument) (string, error)
}

// Publisher fires named-queue events for downstream processing.
type Publisher interface {
	Publish(ctx context.Context, queue string, event RawDataReadyEvent) error
}

// AccountStore is the durable source of crawl credentials.
type AccountStore interface {
	ListActive(ctx context.Context) ([]Account, error)
	Get(ctx context.Context, id string) (Account, error)
	SetStatus(ctx context.Context, id string, status AccountStatus) error
}

// URLBuilder renders the provider search URL for a keyword, window and page.
type URLBuilder interface {
	SearchURL(keyword string, window TimeWindow, page int) string
}

// Hasher computes content digests stored alongside raw pages.
type Hasher interface {
	Hash(content []byte) string
}

// Clock returns the current time and waits; tests substitute a fake that
// advances instantly.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run identifiers and lock tokens.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a search task ready to run.
type QueueItem struct {
	RunID     string
	Task      SearchTask
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for search tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
