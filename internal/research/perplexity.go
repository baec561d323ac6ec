package research

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/httpclient"
	"genie/internal/llm"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
)

const (
	// DefaultBaseURL is the Perplexity API endpoint.
	DefaultBaseURL = "https://api.perplexity.ai"
	// DefaultModel is Perplexity's online search model.
	DefaultModel = "sonar"

	defaultTimeout = 10 * time.Second

	searchTemperature = 0.1
	searchMaxTokens   = 2048

	searchSystemPrompt = "Be precise, concise, and provide actionable steps. Return only valid JSON."
)

// Config carries connection settings for the Perplexity-style provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// HTTPClient overrides the default transport, used by tests.
	HTTPClient *http.Client
}

// PerplexityClient finds resources through a Perplexity-style chat endpoint
// that returns generated content alongside search citations.
type PerplexityClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig genieerrors.RetryConfig
}

// NewWithConfig builds a Perplexity provider from explicit settings.
func NewWithConfig(cfg Config) *PerplexityClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := logging.NewComponentLogger("research-provider")

	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.New(timeout, logger)
	}

	return &PerplexityClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
		retryConfig: genieerrors.RetryConfig{
			MaxAttempts:  1,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			JitterFactor: 0.25,
		},
	}
}

// Search asks the provider for up to maxResults resources on the query.
func (c *PerplexityClient) Search(ctx context.Context, query string, maxResults int) ([]task.Resource, error) {
	return genieerrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) ([]task.Resource, error) {
		return c.search(ctx, query, maxResults)
	}, c.logger)
}

func (c *PerplexityClient) search(ctx context.Context, query string, maxResults int) ([]task.Resource, error) {
	prompt := fmt.Sprintf(
		"Find up to %d high-quality learning resources for: %s\n\n"+
			"Respond with a JSON array where each entry has \"title\", \"url\", "+
			"\"type\" (article|video|tutorial|docs), and \"focus\" (one sentence on "+
			"what the resource helps with).",
		maxResults, query,
	)

	reqBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": searchSystemPrompt},
			{"role": "user", "content": prompt},
		},
		"max_tokens":  searchMaxTokens,
		"temperature": searchTemperature,
	}

	body, err := jsonx.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, "research.Search", err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, 2<<20)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := genieerrors.KindFatalExternal
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = genieerrors.KindTransientExternal
		}
		return nil, &genieerrors.Error{
			Kind:       kind,
			Op:         "research.Search",
			Message:    fmt.Sprintf("provider returned %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations     []string `json:"citations"`
		SearchResults []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"search_results"`
	}
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var resources []task.Resource
	if len(apiResp.Choices) > 0 {
		resources = parseContentResources(apiResp.Choices[0].Message.Content)
	}

	// Citations fill in behind whatever the model listed itself.
	for _, sr := range apiResp.SearchResults {
		if sr.URL == "" {
			continue
		}
		resources = append(resources, task.Resource{
			Title: sr.Title,
			URL:   sr.URL,
			Kind:  task.ResourceArticle,
		})
	}
	for _, citation := range apiResp.Citations {
		if citation == "" {
			continue
		}
		resources = append(resources, task.Resource{
			URL:  citation,
			Kind: task.ResourceArticle,
		})
	}

	c.logger.Debug("search %q returned %d candidate resources", query, len(resources))
	return resources, nil
}

// parseContentResources decodes the model's own JSON resource list. Both a
// bare array and a {"resources": [...]} wrapper appear in the wild; anything
// unparseable yields nil and the citations carry the result.
func parseContentResources(content string) []task.Resource {
	cleaned, err := llm.SanitizeJSON(content)
	if err != nil {
		return nil
	}

	type wireResource struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Type  string `json:"type"`
		Focus string `json:"focus"`
	}

	var items []wireResource
	if err := jsonx.Unmarshal([]byte(cleaned), &items); err != nil {
		var wrapper struct {
			Resources []wireResource `json:"resources"`
		}
		if err := jsonx.Unmarshal([]byte(cleaned), &wrapper); err != nil {
			return nil
		}
		items = wrapper.Resources
	}

	var out []task.Resource
	for _, item := range items {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		out = append(out, task.Resource{
			Title: strings.TrimSpace(item.Title),
			URL:   strings.TrimSpace(item.URL),
			Kind:  task.NormalizeResourceKind(item.Type),
			Focus: strings.TrimSpace(item.Focus),
		})
	}
	return out
}
