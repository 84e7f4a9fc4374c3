package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// DefaultSearchBase is the provider's search endpoint.
const DefaultSearchBase = "https://s.weibo.com/weibo"

// URLBuilder renders provider search URLs.
type URLBuilder struct {
	base string
}

var _ crawler.URLBuilder = (*URLBuilder)(nil)

// NewURLBuilder returns a builder rooted at base, or DefaultSearchBase when empty.
func NewURLBuilder(base string) *URLBuilder {
	if strings.TrimSpace(base) == "" {
		base = DefaultSearchBase
	}
	return &URLBuilder{base: base}
}

// SearchURL builds the URL for page of keyword restricted to window. The
// window is rendered hour-granular in the provider's zone.
func (b *URLBuilder) SearchURL(keyword string, window crawler.TimeWindow, page int) string {
	return SearchURL(b.base, keyword, window, page)
}

// SearchURL is the functional form of URLBuilder.SearchURL.
func SearchURL(base, keyword string, window crawler.TimeWindow, page int) string {
	if page < 1 {
		page = 1
	}
	loc := DefaultLocation()
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("typeall", "1")
	q.Set("suball", "1")
	q.Set("timescope", fmt.Sprintf("custom:%s:%s", timescope(window.Start.In(loc)), timescope(window.End.In(loc))))
	q.Set("Refer", "g")
	q.Set("page", strconv.Itoa(page))
	return base + "?" + q.Encode()
}

func timescope(t time.Time) string {
	return t.Format("2006-01-02-15")
}
