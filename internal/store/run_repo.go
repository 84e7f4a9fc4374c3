package store

import (
	"context"
	"time"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// RunRunning is the status of a run that has started but not finished. The
// terminal statuses are the crawler.RunStatus values.
const RunRunning = "running"

// RunStart describes a run when it begins.
type RunStart struct {
	RunID     string
	Keyword   string
	Window    crawler.TimeWindow
	StartedAt time.Time
}

// RunRepository persists search run history.
type RunRepository interface {
	// StartRun inserts the run row; repeated calls for the same run are no-ops.
	StartRun(ctx context.Context, run RunStart) error
	// AddPageStats applies page and post deltas to a running row.
	AddPageStats(ctx context.Context, runID string, deltaPages, deltaPosts int64, at time.Time) error
	// CompleteRun records the terminal output.
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, out crawler.CrawlRunOutput) error
}
