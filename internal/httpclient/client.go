// Package httpclient builds the http.Client instances genie's outbound
// integrations share: bounded timeouts, debug logging of each exchange, and
// optional circuit breaker protection at the transport level.
package httpclient

import (
	"net/http"
	"time"

	"genie/internal/shared/logging"
)

// DefaultTimeout bounds outbound requests when the caller passes none.
const DefaultTimeout = 30 * time.Second

// New returns an HTTP client with the given total-request timeout and a
// transport that logs each exchange at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.logger.Debug("%s %s failed after %v: %v", req.Method, req.URL.Redacted(), elapsed, err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %v", req.Method, req.URL.Redacted(), resp.StatusCode, elapsed)
	return resp, nil
}
