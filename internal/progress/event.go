package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// Stage denotes the run milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StagePageDone  Stage = "PAGE_DONE"
	StagePageError Stage = "PAGE_ERROR"
	StageNarrowed  Stage = "WINDOW_NARROWED"
	StageRunDone   Stage = "RUN_DONE"
)

// Event captures a single step of a search run.
type Event struct {
	RunID   string
	TS      time.Time
	Stage   Stage
	Keyword string
	// Window is the time window the page or narrowing applies to.
	Window    crawler.TimeWindow
	AccountID string
	Page      int
	Posts     int
	// Reason names the narrowing trigger on StageNarrowed.
	Reason string
	// Output is set on StageRunDone.
	Output *crawler.CrawlRunOutput
	Dur    time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.Keyword == "" {
			return errors.New("run start requires keyword")
		}
	case StagePageDone, StagePageError:
		if e.Page <= 0 {
			return errors.New("page events require a page number")
		}
	case StageNarrowed:
		if !e.Window.Valid() {
			return errors.New("narrowed window must have start <= end")
		}
	case StageRunDone:
		if e.Output == nil {
			return errors.New("run done requires output")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
