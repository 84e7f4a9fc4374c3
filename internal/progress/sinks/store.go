package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/progress"
	"github.com/JakeFAU/search-crawler/internal/store"
)

// StoreSink persists run lifecycle events through a store.RunRepository.
// Page events are collapsed per run so each batch costs one update per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository in event order: starts first,
// then aggregated page deltas, then completions.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[string]*pageDelta)
	var order []string
	var done []progress.Event

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			err := s.repo.StartRun(ctx, store.RunStart{
				RunID:     evt.RunID,
				Keyword:   evt.Keyword,
				Window:    evt.Window,
				StartedAt: evt.TS,
			})
			if err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePageDone:
			d := deltas[evt.RunID]
			if d == nil {
				d = &pageDelta{}
				deltas[evt.RunID] = d
				order = append(order, evt.RunID)
			}
			d.pages++
			d.posts += int64(evt.Posts)
			if evt.TS.After(d.at) {
				d.at = evt.TS
			}
		case progress.StageRunDone:
			done = append(done, evt)
		}
	}

	for _, runID := range order {
		d := deltas[runID]
		if err := s.repo.AddPageStats(ctx, runID, d.pages, d.posts, d.at); err != nil {
			return fmt.Errorf("add page stats: %w", err)
		}
	}
	for _, evt := range done {
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, *evt.Output); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type pageDelta struct {
	pages int64
	posts int64
	at    time.Time
}
