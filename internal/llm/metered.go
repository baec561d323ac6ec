package llm

import (
	"context"
	"time"
)

// CallObserver receives one completion's prompt name, outcome, and latency.
type CallObserver func(ctx context.Context, promptName, status string, elapsed time.Duration)

type meteredClient struct {
	underlying Client
	observe    CallObserver
}

// WithObserver wraps a client so every completion is reported to observe.
// A nil observer returns the client unchanged.
func WithObserver(client Client, observe CallObserver) Client {
	if observe == nil {
		return client
	}
	return &meteredClient{underlying: client, observe: observe}
}

func (c *meteredClient) Model() string {
	return c.underlying.Model()
}

func (c *meteredClient) Complete(ctx context.Context, promptName string, vars map[string]string) (string, error) {
	begin := time.Now()
	out, err := c.underlying.Complete(ctx, promptName, vars)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.observe(ctx, promptName, status, time.Since(begin))
	return out, err
}
