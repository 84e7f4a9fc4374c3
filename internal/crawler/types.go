// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// RunStatus is the terminal state of one orchestrator run.
type RunStatus string

// Run status values reported in CrawlRunOutput.
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusPartial RunStatus = "partial"
)

// AccountStatus is the lifecycle state of a crawl credential.
type AccountStatus string

// Account status values persisted in the account store.
const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBanned   AccountStatus = "banned"
)

// TimeWindow is an hour-granular search range. Start never exceeds End.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the window respects Start <= End.
func (w TimeWindow) Valid() bool {
	return !w.Start.After(w.End)
}

// SearchTask is the input of a single orchestrator run.
type SearchTask struct {
	Keyword   string    `json:"keyword" mapstructure:"keyword"`
	StartDate time.Time `json:"start_date" mapstructure:"start_date"`
	EndDate   time.Time `json:"end_date" mapstructure:"end_date"`
	MaxPages  int       `json:"max_pages" mapstructure:"max_pages"`
}

// Account is a crawl credential together with its current health score.
type Account struct {
	ID       string        `json:"id"`
	Score    float64       `json:"score"`
	Status   AccountStatus `json:"status"`
	Cookies  string        `json:"-"`
	Nickname string        `json:"nickname,omitempty"`
}

// CrawlPageResult is the parsed summary of one fetched result page.
type CrawlPageResult struct {
	PostIDs      []string   `json:"post_ids"`
	HasNextPage  bool       `json:"has_next_page"`
	LastPostTime *time.Time `json:"last_post_time,omitempty"`
	TotalCount   int        `json:"total_count"`
}

// CrawlRunOutput is the terminal result of one orchestrator run. It is always
// returned, even on total failure.
type CrawlRunOutput struct {
	TotalPostsFound      int       `json:"total_posts_found"`
	TotalPagesProcessed  int       `json:"total_pages_processed"`
	TimeWindowsProcessed int       `json:"time_windows_processed"`
	Status               RunStatus `json:"status"`
	ErrorMessage         string    `json:"error_message,omitempty"`
}

// FetchRequest captures everything needed to fetch one result page.
type FetchRequest struct {
	URL       string
	Cookies   string
	UserAgent string
}

// RawDocument is the raw page persisted before parsing.
type RawDocument struct {
	SourceType     string         `json:"source_type" bson:"source_type"`
	SourcePlatform string         `json:"source_platform" bson:"source_platform"`
	SourceURL      string         `json:"source_url" bson:"source_url"`
	RawContent     string         `json:"raw_content" bson:"raw_content"`
	ContentHash    string         `json:"content_hash" bson:"content_hash"`
	Metadata       map[string]any `json:"metadata" bson:"metadata"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
}

// RawDataReadyEvent notifies downstream consumers that a raw page was stored.
type RawDataReadyEvent struct {
	RawDataID      string         `json:"rawDataId"`
	SourceType     string         `json:"sourceType"`
	SourcePlatform string         `json:"sourcePlatform"`
	SourceURL      string         `json:"sourceUrl"`
	ContentHash    string         `json:"contentHash"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
}
