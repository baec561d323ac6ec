package llm

import (
	"context"
	"time"

	genieerrors "genie/internal/errors"
	"genie/internal/shared/logging"
)

// retryClient wraps an LLM client with retry logic and a circuit breaker.
// The underlying client classifies failures; only transient kinds are retried,
// and an open breaker fails fast without consuming retry budget.
type retryClient struct {
	underlying     Client
	retryConfig    genieerrors.RetryConfig
	circuitBreaker *genieerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps an LLM client with retry and circuit breaker logic.
func NewRetryClient(client Client, retryConfig genieerrors.RetryConfig, circuitBreaker *genieerrors.CircuitBreaker) Client {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

func (c *retryClient) Complete(ctx context.Context, promptName string, vars map[string]string) (string, error) {
	startTime := time.Now()

	resp, err := genieerrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (string, error) {
		return genieerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (string, error) {
			return c.underlying.Complete(ctx, promptName, vars)
		})
	}, c.logger)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("completion %s failed after %v: %v", promptName, duration.Round(time.Millisecond), err)
		return "", err
	}

	if duration > 5*time.Second {
		c.logger.Debug("completion %s succeeded after %v", promptName, duration.Round(time.Millisecond))
	}

	return resp, nil
}
