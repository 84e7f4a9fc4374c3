package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/accounts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	unavailable := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "503"))
	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	for _, path := range []string{"/readyz", "/accounts/1001", "/accounts/1002"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, unavailable+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "503")), 0)
	require.InDelta(t, ok+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0)

	// Both account requests share one series keyed by the pattern.
	require.Equal(t, 2, testutil.CollectAndCount(httpRequestDurationSeconds))
}
