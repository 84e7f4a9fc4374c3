// Package metrics exposes Prometheus collectors for the search crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchRunsTotal            *prometheus.CounterVec
	searchPagesTotal           *prometheus.CounterVec
	searchWindowsNarrowedTotal *prometheus.CounterVec
	searchActiveRuns           prometheus.Gauge
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitRejectionsTotal   prometheus.Counter
	rateLimitFailOpenTotal     prometheus.Counter
	lockContentionTotal        prometheus.Counter
	accountSelectionsTotal     *prometheus.CounterVec
	accountHealth              *prometheus.GaugeVec
	navigationDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_runs_total",
				Help: "Total number of search runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		searchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_pages_total",
				Help: "Total number of result pages fetched, labeled by outcome.",
			},
			[]string{"status"},
		)

		searchWindowsNarrowedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_windows_narrowed_total",
				Help: "Total number of time-window narrowings, labeled by trigger.",
			},
			[]string{"reason"},
		)

		searchActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_active_runs",
				Help: "Number of search runs currently executing in this process.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by fetcher mode.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"mode"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratelimit_rejections_total",
				Help: "Total number of requests rejected by the sliding-window limiter.",
			},
		)

		rateLimitFailOpenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratelimit_fail_open_total",
				Help: "Total number of limiter checks admitted because the store was unreachable.",
			},
		)

		lockContentionTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lock_contention_total",
				Help: "Total number of lock acquisitions that gave up because the lock was held.",
			},
		)

		accountSelectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_selections_total",
				Help: "Total number of account pool selections, labeled by result.",
			},
			[]string{"result"},
		)

		accountHealth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "account_health_score",
				Help: "Last observed health score per account.",
			},
			[]string{"account"},
		)

		navigationDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_navigation_delay_seconds",
				Help:    "Histogram of per-host navigation pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun counts a finished search run.
func ObserveRun(status string) {
	Init()
	searchRunsTotal.WithLabelValues(status).Inc()
}

// ObservePage counts a fetched result page.
func ObservePage(status string) {
	Init()
	searchPagesTotal.WithLabelValues(status).Inc()
}

// ObserveNarrowing counts a window narrowing.
func ObserveNarrowing(reason string) {
	Init()
	searchWindowsNarrowedTotal.WithLabelValues(reason).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	searchActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	searchActiveRuns.Dec()
}

// ObserveFetch records a page fetch latency.
func ObserveFetch(mode string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRateLimitRejection counts a limiter rejection.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveRateLimitFailOpen counts a limiter check admitted without the store.
func ObserveRateLimitFailOpen() {
	Init()
	rateLimitFailOpenTotal.Inc()
}

// ObserveLockContention counts a lock acquisition that gave up.
func ObserveLockContention() {
	Init()
	lockContentionTotal.Inc()
}

// ObserveAccountSelection counts a pool selection outcome.
func ObserveAccountSelection(result string) {
	Init()
	accountSelectionsTotal.WithLabelValues(result).Inc()
}

// SetAccountHealth records the latest score of an account.
func SetAccountHealth(accountID string, score float64) {
	Init()
	accountHealth.WithLabelValues(accountID).Set(score)
}

// ObserveNavigationDelay records the duration of a per-host pacing wait.
func ObserveNavigationDelay(domain string, duration time.Duration) {
	Init()
	navigationDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
