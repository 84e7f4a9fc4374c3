// Package scheduler enqueues recurring keyword searches on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/planner"
)

// Task is one recurring search. Each trigger covers the Lookback before
// the trigger hour.
type Task struct {
	Keyword  string
	Schedule string
	Lookback time.Duration
	MaxPages int
}

// Enqueuer accepts triggered searches.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Scheduler owns a cron instance and the entries registered on it.
type Scheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	enqueuer Enqueuer
	clock    crawler.Clock
	ids      crawler.IDGenerator
	logger   *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

// New builds a Scheduler that evaluates schedules in loc (nil means UTC).
func New(enqueuer Enqueuer, clock crawler.Clock, ids crawler.IDGenerator, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
	)
	return &Scheduler{
		cron:     c,
		parser:   parser,
		enqueuer: enqueuer,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		ctx:      context.Background(),
		entries:  make(map[string]cron.EntryID),
	}, nil
}

// Add registers task, replacing an earlier task for the same keyword.
func (s *Scheduler) Add(task Task) error {
	task.Keyword = strings.TrimSpace(task.Keyword)
	if task.Keyword == "" {
		return fmt.Errorf("%w: keyword is required", crawler.ErrInvalidTask)
	}
	if task.Lookback <= 0 {
		return fmt.Errorf("%w: lookback must be positive", crawler.ErrInvalidTask)
	}
	schedule, err := s.parser.Parse(task.Schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", task.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[task.Keyword]; ok {
		s.cron.Remove(id)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		if err := s.Trigger(s.runContext(), task); err != nil {
			s.logger.Error("enqueue scheduled search", zap.String("keyword", task.Keyword), zap.Error(err))
		}
	}))
	s.entries[task.Keyword] = id
	s.logger.Info("search scheduled",
		zap.String("keyword", task.Keyword),
		zap.String("schedule", task.Schedule),
		zap.Time("next_run", schedule.Next(s.clock.Now())),
	)
	return nil
}

// Remove unregisters the task for keyword.
func (s *Scheduler) Remove(keyword string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[keyword]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, keyword)
	return true
}

// Len reports registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Trigger enqueues task for the lookback ending at the current hour.
func (s *Scheduler) Trigger(ctx context.Context, task Task) error {
	now := s.clock.Now()
	end := planner.TruncateHour(now)
	runID, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	item := crawler.QueueItem{
		RunID: runID,
		Task: crawler.SearchTask{
			Keyword:   task.Keyword,
			StartDate: end.Add(-task.Lookback),
			EndDate:   end,
			MaxPages:  task.MaxPages,
		},
		Submitted: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue %q: %w", task.Keyword, err)
	}
	s.logger.Info("scheduled search enqueued",
		zap.String("run_id", runID),
		zap.String("keyword", task.Keyword),
		zap.Time("start", item.Task.StartDate),
		zap.Time("end", item.Task.EndDate),
	)
	return nil
}

// Start begins firing schedules; triggered enqueues use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the cron loop and waits for running triggers.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
