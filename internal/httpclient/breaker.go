package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	genieerrors "genie/internal/errors"
	"genie/internal/shared/logging"
)

// NewWithBreaker returns New's client with a named circuit breaker in front
// of the transport. Repeated transport errors, 429s, and 5xx responses open
// the breaker; requests then fail fast with ErrCircuitOpen until the
// cool-off passes.
func NewWithBreaker(timeout time.Duration, logger logging.Logger, name string) *http.Client {
	if name == "" {
		name = "http"
	}
	client := New(timeout, logger)
	client.Transport = &breakerRoundTripper{
		base:    client.Transport,
		breaker: genieerrors.NewCircuitBreaker(name, genieerrors.DefaultCircuitBreakerConfig()),
	}
	return client
}

type breakerRoundTripper struct {
	base    http.RoundTripper
	breaker *genieerrors.CircuitBreaker
}

func (t *breakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	switch {
	case errors.Is(err, context.Canceled):
		// A cancelled caller says nothing about the provider's health.
		t.breaker.Mark(nil)
	case err != nil:
		t.breaker.Mark(err)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	default:
		t.breaker.Mark(nil)
	}
	return resp, err
}
