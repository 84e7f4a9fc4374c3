package dispatcher

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/search"
)

// Worker consumes queue items and runs them one at a time.
type Worker struct {
	id       int
	queue    crawler.Queue
	runner   Runner
	onResult ResultFunc
	logger   *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(id int, queue crawler.Queue, runner Runner, onResult ResultFunc, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		runner:   runner,
		onResult: onResult,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued search",
			zap.String("run_id", item.RunID),
			zap.String("keyword", item.Task.Keyword),
		)
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	runCtx := ctx
	if item.RunID != "" {
		runCtx = search.WithRunID(ctx, item.RunID)
	}
	out := w.runner.Execute(runCtx, item.Task)
	if out.Status == crawler.RunStatusFailed {
		w.logger.Warn("search failed",
			zap.String("run_id", item.RunID),
			zap.String("keyword", item.Task.Keyword),
			zap.String("error", out.ErrorMessage),
		)
	}
	if w.onResult != nil {
		w.onResult(item, out)
	}
}
