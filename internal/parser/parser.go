// Package parser extracts post ids, timestamps and pagination from search
// result pages.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// Selectors used to walk a result page. Exposed through Config so a layout
// change can be patched from configuration.
const (
	DefaultPostSelector  = "div.card-wrap[mid]"
	DefaultTimeSelector  = "div.from a, p.from a"
	DefaultNextSelector  = "a.next"
	DefaultCountSelector = "div.card-top, div.m-error"
)

// Config controls the result-page parser.
type Config struct {
	PostSelector  string `mapstructure:"post_selector"`
	TimeSelector  string `mapstructure:"time_selector"`
	NextSelector  string `mapstructure:"next_selector"`
	CountSelector string `mapstructure:"count_selector"`
	// Location interprets post times that omit a zone.
	Location *time.Location `mapstructure:"-"`
}

// Parser implements crawler.PageParser with goquery.
type Parser struct {
	cfg Config
	now func() time.Time
}

var _ crawler.PageParser = (*Parser)(nil)

// New builds a Parser. now anchors relative timestamps and may be nil.
func New(cfg Config, now func() time.Time) *Parser {
	if cfg.PostSelector == "" {
		cfg.PostSelector = DefaultPostSelector
	}
	if cfg.TimeSelector == "" {
		cfg.TimeSelector = DefaultTimeSelector
	}
	if cfg.NextSelector == "" {
		cfg.NextSelector = DefaultNextSelector
	}
	if cfg.CountSelector == "" {
		cfg.CountSelector = DefaultCountSelector
	}
	if cfg.Location == nil {
		cfg.Location = DefaultLocation()
	}
	if now == nil {
		now = time.Now
	}
	return &Parser{cfg: cfg, now: now}
}

// Parse walks the result cards. LastPostTime is the oldest post time on the
// page, since results are listed newest first.
func (p *Parser) Parse(html string) (crawler.CrawlPageResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.CrawlPageResult{}, fmt.Errorf("parse html: %w", err)
	}

	now := p.now().In(p.cfg.Location)
	var (
		result crawler.CrawlPageResult
		oldest *time.Time
		seen   = make(map[string]struct{})
	)
	doc.Find(p.cfg.PostSelector).Each(func(_ int, card *goquery.Selection) {
		mid := strings.TrimSpace(card.AttrOr("mid", ""))
		if mid == "" {
			return
		}
		if _, dup := seen[mid]; dup {
			return
		}
		seen[mid] = struct{}{}
		result.PostIDs = append(result.PostIDs, mid)

		raw := strings.TrimSpace(card.Find(p.cfg.TimeSelector).First().Text())
		ts, ok := ParsePostTime(raw, now)
		if !ok {
			return
		}
		if oldest == nil || ts.Before(*oldest) {
			oldest = &ts
		}
	})

	result.LastPostTime = oldest
	result.HasNextPage = doc.Find(p.cfg.NextSelector).Length() > 0
	result.TotalCount = totalCount(doc.Find(p.cfg.CountSelector).Text(), len(result.PostIDs))
	return result, nil
}

// totalCount reads the provider's "found N results" banner, falling back to
// the number of cards on the page.
func totalCount(banner string, fallback int) int {
	var digits strings.Builder
	for _, r := range banner {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ',' && digits.Len() > 0:
		case digits.Len() > 0:
			if n, err := strconv.Atoi(digits.String()); err == nil {
				return n
			}
			digits.Reset()
		}
	}
	if digits.Len() > 0 {
		if n, err := strconv.Atoi(digits.String()); err == nil {
			return n
		}
	}
	return fallback
}
