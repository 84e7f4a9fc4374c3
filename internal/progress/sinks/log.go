package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/progress"
)

// LogSink emits one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Keyword != "" {
			fields = append(fields, zap.String("keyword", evt.Keyword))
		}
		if !evt.Window.End.IsZero() {
			fields = append(fields, zap.Time("window_start", evt.Window.Start), zap.Time("window_end", evt.Window.End))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("posts", evt.Posts))
		}
		if evt.AccountID != "" {
			fields = append(fields, zap.String("account_id", evt.AccountID))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		if evt.Output != nil {
			fields = append(fields,
				zap.String("status", string(evt.Output.Status)),
				zap.Int("total_posts", evt.Output.TotalPostsFound),
				zap.Int("total_pages", evt.Output.TotalPagesProcessed),
				zap.Int("windows", evt.Output.TimeWindowsProcessed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
