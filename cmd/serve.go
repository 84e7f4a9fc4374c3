package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/api"
	"github.com/JakeFAU/search-crawler/internal/app"
	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/dispatcher"
	memoryqueue "github.com/JakeFAU/search-crawler/internal/queue/memory"
	"github.com/JakeFAU/search-crawler/internal/scheduler"
)

const readHeaderTimeout = 5 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled searches and serve health and metrics endpoints.",
		Long: `serve starts the dispatcher workers, registers every configured task with
the cron scheduler when scheduler.enabled is set, and exposes /healthz,
/readyz and /metrics. SIGINT or SIGTERM drains in-flight runs and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.startApp(ctx)
			if err != nil {
				return err
			}
			defer c.closeApp(a)
			return c.serve(ctx, a)
		},
	}
}

// serve blocks until ctx is cancelled or the HTTP server fails.
func (c *cli) serve(ctx context.Context, a *app.App) error {
	cfg := c.cfg
	logger := c.logger

	queue := memoryqueue.NewQueue(cfg.Scheduler.QueueDepth)
	disp, err := dispatcher.New(queue, a.Orchestrator, dispatcher.Config{Workers: cfg.Scheduler.Workers}, c.logResult, logger)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(disp, a.Clock, a.IDs, cfg.SearchLocation(), logger)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		for _, t := range cfg.Tasks {
			if err := sched.Add(scheduler.Task{
				Keyword:  t.Keyword,
				Schedule: t.Schedule,
				Lookback: t.Lookback,
				MaxPages: t.MaxPages,
			}); err != nil {
				return fmt.Errorf("schedule %q: %w", t.Keyword, err)
			}
		}
	}

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		disp.Run(runCtx)
	}()
	if sched != nil {
		sched.Start(runCtx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port(cfg.Server.Port)),
		Handler:           api.NewServer(a.Checks(), logger).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.Int("workers", disp.Workers()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	queue.Close()

	select {
	case <-dispatched:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout; cancelling in-flight runs")
		cancelRuns()
		<-dispatched
	}
	return runErr
}

func (c *cli) logResult(item crawler.QueueItem, out crawler.CrawlRunOutput) {
	c.logger.Info("run finished",
		zap.String("run_id", item.RunID),
		zap.String("keyword", item.Task.Keyword),
		zap.String("status", string(out.Status)),
		zap.Int("posts", out.TotalPostsFound),
		zap.Int("pages", out.TotalPagesProcessed),
		zap.Int("windows", out.TimeWindowsProcessed),
	)
}

// port lets a PORT environment variable, as set by most container
// platforms, override the configured port.
func port(configured int) int {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			return p
		}
	}
	return configured
}
