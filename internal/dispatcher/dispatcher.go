// Package dispatcher manages worker fan-out over the search task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// Runner executes one search task to completion.
type Runner interface {
	Execute(ctx context.Context, task crawler.SearchTask) crawler.CrawlRunOutput
}

// ResultFunc observes finished runs.
type ResultFunc func(item crawler.QueueItem, out crawler.CrawlRunOutput)

// Config controls the worker pool.
type Config struct {
	Workers int `mapstructure:"workers"`
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*Worker
}

// New creates a Dispatcher with cfg.Workers workers sharing runner.
func New(queue crawler.Queue, runner Runner, cfg Config, onResult ResultFunc, logger *zap.Logger) (*Dispatcher, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	workers := make([]*Worker, cfg.Workers)
	for i := range workers {
		workers[i] = NewWorker(i, queue, runner, onResult, logger.Named("dispatcher"))
	}
	return &Dispatcher{queue: queue, workers: workers}, nil
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Run starts all workers and blocks until they have all stopped, either
// because ctx finished or the queue closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
