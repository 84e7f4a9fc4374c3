package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	db    querier
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps an existing pool. An empty table uses DefaultRunsTable.
func NewRunStore(db querier, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, DefaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// StartRun inserts a running row.
func (s *RunStore) StartRun(ctx context.Context, run store.RunStart) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, keyword, start_date, end_date, status, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (id) DO NOTHING`, s.table)
	_, err := s.db.Exec(ctx, query,
		run.RunID,
		run.Keyword,
		run.Window.Start,
		run.Window.End,
		store.RunRunning,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %q: %w", run.RunID, err)
	}
	return nil
}

// AddPageStats increments the page and post counters.
func (s *RunStore) AddPageStats(ctx context.Context, runID string, deltaPages, deltaPosts int64, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET pages_processed = pages_processed + $2,
	posts_found = posts_found + $3,
	updated_at = GREATEST(updated_at, $4)
WHERE id = $1`, s.table)
	if _, err := s.db.Exec(ctx, query, runID, deltaPages, deltaPosts, at); err != nil {
		return fmt.Errorf("update run %q stats: %w", runID, err)
	}
	return nil
}

// CompleteRun stores the terminal output; the run's own totals replace the
// incremental counters.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, finishedAt time.Time, out crawler.CrawlRunOutput) error {
	var errMsg *string
	if out.ErrorMessage != "" {
		errMsg = &out.ErrorMessage
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
	finished_at = $3,
	updated_at = $3,
	posts_found = $4,
	pages_processed = $5,
	windows_processed = $6,
	error_message = $7
WHERE id = $1`, s.table)
	_, err := s.db.Exec(ctx, query,
		runID,
		string(out.Status),
		finishedAt,
		int64(out.TotalPostsFound),
		int64(out.TotalPagesProcessed),
		int64(out.TimeWindowsProcessed),
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("complete run %q: %w", runID, err)
	}
	return nil
}
