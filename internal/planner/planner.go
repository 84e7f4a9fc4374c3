// Package planner narrows search time windows around the provider page cap.
//
// A query for a wide range only ever yields the first PageCap pages. When a
// window fills that cap, the next query keeps the same lower bound and moves
// the upper bound to one hour before the oldest post seen, so successive
// windows shrink toward the target start and the loop terminates after at
// most one iteration per hour of range.
package planner

import (
	"time"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

const (
	// DefaultPageCap is the most result pages the provider serves per query.
	DefaultPageCap = 50
	// DefaultGapThreshold is the smallest unexplored residual range worth a
	// narrowed query when a window ran out of pages early.
	DefaultGapThreshold = time.Hour
)

// Narrowing reasons reported by NarrowReason.
const (
	ReasonPageCap = "page_cap"
	ReasonGap     = "gap"
)

// Config tunes the narrowing trigger.
type Config struct {
	PageCap      int           `mapstructure:"page_cap"`
	GapThreshold time.Duration `mapstructure:"gap_threshold"`
}

// Decision is the planner verdict after a window is exhausted.
type Decision struct {
	Next       *crawler.TimeWindow
	ShouldStop bool
}

// Planner is stateless and safe for concurrent use.
type Planner struct {
	cfg Config
}

// New returns a Planner; non-positive fields take the defaults.
func New(cfg Config) *Planner {
	if cfg.PageCap <= 0 {
		cfg.PageCap = DefaultPageCap
	}
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	return &Planner{cfg: cfg}
}

// PageCap returns the configured page cap.
func (p *Planner) PageCap() int {
	return p.cfg.PageCap
}

// NextTimeRange decides the window following one whose oldest post was at
// lastPostTime.
func (p *Planner) NextTimeRange(lastPostTime, targetStart time.Time) Decision {
	last := TruncateHour(lastPostTime)
	start := TruncateHour(targetStart)
	if !last.After(start) {
		return Decision{ShouldStop: true}
	}
	return Decision{Next: &crawler.TimeWindow{Start: start, End: last.Add(-time.Hour)}}
}

// ShouldNarrow reports whether the page loop for window should stop so the
// window can be narrowed.
func (p *Planner) ShouldNarrow(page int, hasNext bool, lastPostTime *time.Time, window crawler.TimeWindow) bool {
	return p.NarrowReason(page, hasNext, lastPostTime, window) != ""
}

// NarrowReason is ShouldNarrow with the trigger that fired, or "".
func (p *Planner) NarrowReason(page int, hasNext bool, lastPostTime *time.Time, window crawler.TimeWindow) string {
	if page >= p.cfg.PageCap {
		return ReasonPageCap
	}
	if !hasNext && lastPostTime != nil && lastPostTime.Sub(window.Start) >= p.cfg.GapThreshold {
		return ReasonGap
	}
	return ""
}

// TruncateHour drops minutes and below, keeping t's location.
func TruncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
