// Package llm implements the completion client the agents share. Callers name
// an embedded prompt template and supply its variables; the client renders it,
// speaks the OpenAI-compatible chat completions API, and hands back the raw
// model text. SanitizeJSON turns that text into parseable JSON for the agents
// that expect structured output.
package llm

import (
	"context"
	"net/http"
	"time"

	genieerrors "genie/internal/errors"
)

// DefaultTimeout bounds a single completion call when the config passes none.
const DefaultTimeout = 30 * time.Second

// DefaultMaxPromptTokens caps the rendered prompt size. Prompts over the cap
// are truncated before the call rather than rejected, so an oversized task
// graph degrades to a shorter view instead of failing the utterance.
const DefaultMaxPromptTokens = 12000

// Client is the completion port every agent depends on. Implementations must
// be safe for concurrent use.
type Client interface {
	// Complete renders the named prompt template with vars, sends it to the
	// model, and returns the raw response text.
	Complete(ctx context.Context, promptName string, vars map[string]string) (string, error)

	// Model returns the model name requests are issued against.
	Model() string
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// UsageFunc observes token usage after each successful completion.
type UsageFunc func(usage Usage, model string)

// Config carries the connection settings for an OpenAI-compatible provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Timeout bounds each HTTP attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxPromptTokens truncates rendered prompts above this token count.
	// Zero means DefaultMaxPromptTokens; negative disables truncation.
	MaxPromptTokens int

	// HTTPClient overrides the default transport. Tests inject httptest
	// clients here.
	HTTPClient *http.Client
}

// WrapWithRetry layers retry and circuit breaker protection over a client.
// The breaker is named after the model so log lines identify the provider.
func WrapWithRetry(client Client, retryConfig genieerrors.RetryConfig, breakerConfig genieerrors.CircuitBreakerConfig) Client {
	breaker := genieerrors.NewCircuitBreaker("llm-"+client.Model(), breakerConfig)
	return NewRetryClient(client, retryConfig, breaker)
}
