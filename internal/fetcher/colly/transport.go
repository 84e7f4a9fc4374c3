package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/retry"
)

// tlsRetryTransport retries round trips that fail during connection setup.
// Requests with a body are never retried.
type tlsRetryTransport struct {
	base   http.RoundTripper
	opts   retry.Options
	logger *zap.Logger
}

func newTLSRetryTransport(base http.RoundTripper, logger *zap.Logger) *tlsRetryTransport {
	t := &tlsRetryTransport{base: base, logger: logger}
	t.opts = retry.Options{
		MaxAttempts: 4,
		Backoff:     retry.Exponential,
		Delay:       250 * time.Millisecond,
		MaxDelay:    time.Second,
		ShouldRetry: isTransientTLSError,
		OnRetry: func(err error, attempt int) {
			t.logger.Debug("retrying transient transport error", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	return t
}

func (t *tlsRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	if req.Body != nil && req.Body != http.NoBody {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("transport roundtrip: %w", err)
		}
		return resp, nil
	}
	resp, err := retry.DoValue(req.Context(), t.opts, func(ctx context.Context) (*http.Response, error) {
		return t.base.RoundTrip(req.Clone(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("transport roundtrip: %w", err)
	}
	return resp, nil
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout") ||
		strings.Contains(err.Error(), "TLS handshake timeout")
}
