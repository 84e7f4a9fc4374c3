// Package detector decides when an HTTP-fetched result page must be
// re-fetched through a browser.
package detector

import (
	"strings"
)

const defaultThreshold = 2048

// Heuristic implements a handful of rule-based render checks.
type Heuristic struct {
	BodyLengthThreshold int
	// ContentMarker proves the page was rendered server-side when present.
	ContentMarker string
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int, contentMarker string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if contentMarker == "" {
		contentMarker = `class="card-wrap"`
	}
	return &Heuristic{BodyLengthThreshold: threshold, ContentMarker: contentMarker}
}

var spaMarkers = []string{
	"__INITIAL_STATE__",
	"__next",
	`id="app"`,
	`id="root"`,
	"data-reactroot",
}

// NeedsRender reports whether html looks like a client-rendered shell.
func (h *Heuristic) NeedsRender(html string) bool {
	if strings.TrimSpace(html) == "" {
		return true
	}
	if h.ContentMarker != "" && strings.Contains(html, h.ContentMarker) {
		return false
	}
	if len(html) < h.BodyLengthThreshold && scriptDensityHigh(html) {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover a quarter or more
// of the document.
func scriptDensityHigh(body string) bool {
	lower := strings.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	covered := 0
	rest := lower
	for {
		start := strings.Index(rest, "<script")
		if start == -1 {
			break
		}
		tail := rest[start:]
		end := strings.Index(tail, "</script>")
		if end == -1 {
			// Unterminated script swallows the rest of the document.
			covered += len(tail)
			break
		}
		end += len("</script>")
		covered += end
		rest = tail[end:]
	}
	return covered*100/total >= 25
}
