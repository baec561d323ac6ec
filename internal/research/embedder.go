package research

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	genieerrors "genie/internal/errors"
	"genie/internal/httpclient"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
)

// Embedder turns text into a vector the resource memory can index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig holds settings for the OpenAI-compatible embeddings API.
type EmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// CacheSize bounds the embedding LRU; zero means 10000 entries.
	CacheSize int

	// HTTPClient overrides the default transport, used by tests.
	HTTPClient *http.Client
}

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultEmbedderCache  = 10000
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint with an LRU
// cache in front. Memory writes re-embed the same headings the lookup just
// embedded, so the cache halves the API traffic in the common path.
type OpenAIEmbedder struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	cache       *lru.Cache[string, []float32]
	logger      logging.Logger
	retryConfig genieerrors.RetryConfig
}

// NewEmbedder builds an embedder from config.
func NewEmbedder(cfg EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultEmbedderCache
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	logger := logging.NewComponentLogger("research-embedder")

	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.New(30*time.Second, logger)
	}

	return &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: client,
		cache:      cache,
		logger:     logger,
		retryConfig: genieerrors.RetryConfig{
			MaxAttempts:  2,
			BaseDelay:    time.Second,
			MaxDelay:     4 * time.Second,
			JitterFactor: 0.25,
		},
	}, nil
}

// Embed returns the embedding for text, serving repeats from cache.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	embedding, err := genieerrors.RetryWithResultAndLog(ctx, e.retryConfig, func(ctx context.Context) ([]float32, error) {
		return e.callAPI(ctx, text)
	}, e.logger)
	if err != nil {
		return nil, err
	}

	e.cache.Add(text, embedding)
	return embedding, nil
}

func (e *OpenAIEmbedder) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := jsonx.Marshal(map[string]any{
		"model": e.model,
		"input": []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, "research.Embed", err, "request failed")
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
			Op:         "research.Embed",
			Message:    fmt.Sprintf("embeddings endpoint returned %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("embeddings endpoint returned no data")
	}
	return apiResp.Data[0].Embedding, nil
}
