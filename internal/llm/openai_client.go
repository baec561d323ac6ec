package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	genieerrors "genie/internal/errors"
	"genie/internal/httpclient"
	"genie/internal/prompts"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
	"genie/internal/shared/token"
	"genie/internal/utils/id"
)

const (
	// requestTemperature keeps extraction and planning output stable across
	// retries of the same utterance.
	requestTemperature = 0.1
	requestMaxTokens   = 4096

	// maxResponseBytes caps how much of a completion body is read. Well-formed
	// action and plan payloads are a few KB.
	maxResponseBytes = 4 << 20
)

// OpenAI API compatible client.
type openaiClient struct {
	model           string
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	logger          logging.Logger
	prompts         *prompts.Loader
	maxPromptTokens int
	usageFn         UsageFunc
}

// NewOpenAIClient constructs a client that renders named prompt templates and
// speaks the OpenAI-compatible chat completions API.
func NewOpenAIClient(cfg Config, loader *prompts.Loader, opts ...ClientOption) (Client, error) {
	if loader == nil {
		return nil, fmt.Errorf("prompt loader is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, genieerrors.New(genieerrors.KindValidation, "llm.NewOpenAIClient", "base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxPromptTokens := cfg.MaxPromptTokens
	if maxPromptTokens == 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}

	logger := logging.NewLLMLogger("openai")

	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.New(timeout, logger)
	}

	c := &openaiClient{
		model:           cfg.Model,
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		httpClient:      client,
		logger:          logger,
		prompts:         loader,
		maxPromptTokens: maxPromptTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClientOption customizes the OpenAI client.
type ClientOption func(*openaiClient)

// WithUsageFunc registers a callback observing token usage per completion.
func WithUsageFunc(fn UsageFunc) ClientOption {
	return func(c *openaiClient) { c.usageFn = fn }
}

func (c *openaiClient) Model() string {
	return c.model
}

func (c *openaiClient) Complete(ctx context.Context, promptName string, vars map[string]string) (string, error) {
	prompt, err := c.prompts.Render(promptName, vars)
	if err != nil {
		return "", genieerrors.Wrap(genieerrors.KindValidation, "llm.Complete", err, "render prompt %s", promptName)
	}

	promptTokens := tokenutil.CountTokens(prompt)
	if c.maxPromptTokens > 0 && promptTokens > c.maxPromptTokens {
		c.logger.Warn("prompt %s is %d tokens, truncating to %d", promptName, promptTokens, c.maxPromptTokens)
		prompt = tokenutil.TruncateToTokens(prompt, c.maxPromptTokens)
		promptTokens = c.maxPromptTokens
	}

	reqBody := map[string]any{
		"model":       c.model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": requestTemperature,
		"max_tokens":  requestMaxTokens,
		"stream":      false,
	}

	body, err := jsonx.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	prefix := fmt.Sprintf("[utt:%s] ", id.UtteranceIDFromContext(ctx))
	endpoint := c.baseURL + "/chat/completions"

	c.logger.Debug("%s=== LLM Request ===", prefix)
	c.logger.Debug("%sURL: POST %s", prefix, endpoint)
	c.logger.Debug("%sModel: %s Prompt: %s (%d tokens)", prefix, c.model, promptName, promptTokens)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return "", wrapRequestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("%s=== LLM Response ===", prefix)
	c.logger.Debug("%sStatus: %d %s", prefix, resp.StatusCode, resp.Status)

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("%sError Response Body: %s", prefix, string(respBody))
		return "", mapHTTPError(resp.StatusCode, respBody)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := jsonx.Unmarshal(respBody, &oaiResp); err != nil {
		c.logger.Debug("%sFailed to decode response: %v", prefix, err)
		return "", fmt.Errorf("decode response: %w", err)
	}

	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		errMsg := oaiResp.Error.Message
		if oaiResp.Error.Type != "" {
			errMsg = fmt.Sprintf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
		}
		return "", mapHTTPError(resp.StatusCode, []byte(errMsg))
	}

	if len(oaiResp.Choices) == 0 {
		c.logger.Debug("%sNo choices in response", prefix)
		return "", genieerrors.New(genieerrors.KindTransientExternal, "llm.Complete", "model returned no choices")
	}

	content := oaiResp.Choices[0].Message.Content

	if c.usageFn != nil {
		c.usageFn(Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		}, c.model)
	}

	c.logger.Debug("%s=== LLM Response Summary ===", prefix)
	c.logger.Debug("%sStop Reason: %s", prefix, oaiResp.Choices[0].FinishReason)
	c.logger.Debug("%sContent Length: %d chars", prefix, len(content))
	c.logger.Debug("%sUsage: %d prompt + %d completion = %d total tokens",
		prefix,
		oaiResp.Usage.PromptTokens,
		oaiResp.Usage.CompletionTokens,
		oaiResp.Usage.TotalTokens)
	c.logger.Debug("%s==================", prefix)

	return content, nil
}

// wrapRequestError classifies transport failures. Context expiry is a timeout,
// everything else on the wire is transient.
func wrapRequestError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return genieerrors.Wrap(genieerrors.KindTimeout, "llm.Complete", err, "request deadline expired")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return genieerrors.Wrap(genieerrors.KindTransientExternal, "llm.Complete", err, "request failed")
}

// mapHTTPError converts a non-2xx provider response into a classified error:
// 401/403 are fatal auth failures, 429 and 5xx are transient, the rest of the
// 4xx range is fatal.
func mapHTTPError(statusCode int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}

	kind := genieerrors.KindFatalExternal
	switch {
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		kind = genieerrors.KindTransientExternal
	case statusCode == http.StatusRequestTimeout:
		kind = genieerrors.KindTimeout
	}

	return &genieerrors.Error{
		Kind:       kind,
		Op:         "llm.Complete",
		Message:    fmt.Sprintf("provider returned %d: %s", statusCode, detail),
		StatusCode: statusCode,
	}
}
