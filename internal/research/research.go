// Package research finds learning resources for subtasks. Lookups consult an
// optional embedded vector memory first, then a Perplexity-style provider, and
// never fail: any upstream error degrades to an empty result because research
// is not critical to the pipeline.
package research

import (
	"context"
	"net/url"
	"strings"

	"genie/internal/domain/task"
	"genie/internal/shared/logging"
)

// Provider finds resources from an external search service.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]task.Resource, error)
}

// DefaultMaxResults bounds a lookup when the caller passes none.
const DefaultMaxResults = 3

// Service coordinates memory, provider, and enrichment for resource lookups.
type Service struct {
	provider Provider
	memory   *Memory
	titles   *TitleFetcher
	logger   logging.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithMemory attaches a vector memory consulted before the provider.
func WithMemory(memory *Memory) ServiceOption {
	return func(s *Service) { s.memory = memory }
}

// WithTitleFetcher enables page-title enrichment for untitled citations.
func WithTitleFetcher(fetcher *TitleFetcher) ServiceOption {
	return func(s *Service) { s.titles = fetcher }
}

// NewService builds a research service over the provider.
func NewService(provider Provider, opts ...ServiceOption) *Service {
	s := &Service{
		provider: provider,
		logger:   logging.NewComponentLogger("research"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindResources returns up to maxResults deduplicated resources for the query.
// The slice is always non-nil; failures are logged and degrade to fewer or
// zero results.
func (s *Service) FindResources(ctx context.Context, query string, maxResults int) []task.Resource {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []task.Resource{}
	}

	var remembered []task.Resource
	if s.memory != nil {
		remembered = s.memory.Lookup(ctx, query, maxResults)
		if len(remembered) >= maxResults {
			return capResources(dedupeByURL(remembered), maxResults)
		}
	}

	var found []task.Resource
	if s.provider != nil {
		results, err := s.provider.Search(ctx, query, maxResults)
		if err != nil {
			s.logger.Warn("resource search for %q failed: %v", query, err)
		} else {
			found = results
		}
	}

	found = s.enrichTitles(ctx, found)

	if s.memory != nil && len(found) > 0 {
		s.memory.Remember(ctx, query, found)
	}

	merged := append(found, remembered...)
	return capResources(dedupeByURL(merged), maxResults)
}

// enrichTitles fills missing titles from the page itself, falling back to the
// host name when the fetch fails.
func (s *Service) enrichTitles(ctx context.Context, resources []task.Resource) []task.Resource {
	for i, res := range resources {
		if strings.TrimSpace(res.Title) != "" {
			continue
		}
		if s.titles != nil {
			if title, err := s.titles.PageTitle(ctx, res.URL); err == nil && title != "" {
				resources[i].Title = title
				continue
			}
		}
		resources[i].Title = hostOf(res.URL)
	}
	return resources
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

// dedupeByURL keeps the first resource seen per normalized URL.
func dedupeByURL(resources []task.Resource) []task.Resource {
	seen := make(map[string]bool, len(resources))
	out := make([]task.Resource, 0, len(resources))
	for _, res := range resources {
		key := normalizeURL(res.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, res)
	}
	return out
}

// normalizeURL lowercases the host and strips fragments and trailing slashes
// so the same page found twice counts once.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	parsed.Fragment = ""
	parsed.Host = strings.ToLower(parsed.Host)
	return strings.TrimRight(parsed.String(), "/")
}

func capResources(resources []task.Resource, limit int) []task.Resource {
	if len(resources) > limit {
		resources = resources[:limit]
	}
	return resources
}
