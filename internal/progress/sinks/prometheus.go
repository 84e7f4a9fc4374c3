package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/search-crawler/internal/progress"
)

// PrometheusSink exports run progress on a caller-supplied registry.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages      *prometheus.CounterVec
	posts      prometheus.Counter
	narrowings *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_progress_runs_started_total",
			Help: "Total search runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_progress_runs_completed_total",
			Help: "Total search runs completed partitioned by status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "search_progress_runs_running",
			Help: "Search runs started but not yet completed.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "search_progress_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"status"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_progress_pages_total",
			Help: "Result pages processed partitioned by outcome.",
		}, []string{"outcome"}),
		posts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_progress_posts_total",
			Help: "Post identifiers found across all runs.",
		}),
		narrowings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_progress_narrowings_total",
			Help: "Time-window narrowings partitioned by trigger.",
		}, []string{"reason"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pages,
		s.posts,
		s.narrowings,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StagePageDone:
			s.pages.WithLabelValues("done").Inc()
			s.posts.Add(float64(evt.Posts))
		case progress.StagePageError:
			s.pages.WithLabelValues("error").Inc()
		case progress.StageNarrowed:
			reason := evt.Reason
			if reason == "" {
				reason = "unknown"
			}
			s.narrowings.WithLabelValues(reason).Inc()
		case progress.StageRunDone:
			status := string(evt.Output.Status)
			s.runsCompleted.WithLabelValues(status).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(status).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.Dec()
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
