package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"genie/internal/domain/task"
	"genie/internal/shared/logging"
)

const (
	memoryCollection = "resources"

	// memoryMinSimilarity filters out weak matches; below this a remembered
	// resource is about a different topic.
	memoryMinSimilarity = 0.65
)

// Memory persists found resources in an embedded vector store so repeated
// lookups for similar work skip the provider. All operations degrade to
// no-ops on failure.
type Memory struct {
	collection *chromem.Collection
	logger     logging.Logger
}

// NewMemory opens a vector memory at path. An empty path keeps the store
// in process memory only.
func NewMemory(path string, embedder Embedder) (*Memory, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open resource memory: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(memoryCollection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("open resource collection: %w", err)
	}

	return &Memory{
		collection: collection,
		logger:     logging.NewComponentLogger("research-memory"),
	}, nil
}

// Lookup returns remembered resources similar to the query, best match first.
func (m *Memory) Lookup(ctx context.Context, query string, limit int) []task.Resource {
	if m == nil || limit <= 0 {
		return nil
	}

	count := m.collection.Count()
	if count == 0 {
		return nil
	}
	// chromem rejects queries asking for more results than stored documents.
	topK := limit
	if topK > count {
		topK = count
	}

	results, err := m.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		m.logger.Warn("memory lookup for %q failed: %v", query, err)
		return nil
	}

	var out []task.Resource
	for _, r := range results {
		if r.Similarity < memoryMinSimilarity {
			continue
		}
		res := resourceFromMetadata(r.Metadata)
		if res.URL == "" {
			continue
		}
		out = append(out, res)
	}
	return out
}

// Remember stores resources found for the query. Duplicate URLs overwrite
// their previous entry.
func (m *Memory) Remember(ctx context.Context, query string, resources []task.Resource) {
	if m == nil {
		return
	}
	for _, res := range resources {
		if res.URL == "" {
			continue
		}
		doc := chromem.Document{
			ID:      resourceDocID(res.URL),
			Content: rememberContent(query, res),
			Metadata: map[string]string{
				"url":   res.URL,
				"title": res.Title,
				"kind":  string(res.Kind),
				"focus": res.Focus,
			},
		}
		if err := m.collection.AddDocument(ctx, doc); err != nil {
			m.logger.Warn("remember %s failed: %v", res.URL, err)
		}
	}
}

// Len reports how many resources are remembered.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	return m.collection.Count()
}

// rememberContent builds the text a resource is embedded under. Including the
// originating query lets later lookups for similar subtasks land on it.
func rememberContent(query string, res task.Resource) string {
	parts := []string{query}
	if res.Title != "" {
		parts = append(parts, res.Title)
	}
	if res.Focus != "" {
		parts = append(parts, res.Focus)
	}
	return strings.Join(parts, "\n")
}

func resourceDocID(url string) string {
	sum := sha256.Sum256([]byte(normalizeURL(url)))
	return hex.EncodeToString(sum[:8])
}

func resourceFromMetadata(metadata map[string]string) task.Resource {
	return task.Resource{
		Title: metadata["title"],
		URL:   metadata["url"],
		Kind:  task.NormalizeResourceKind(metadata["kind"]),
		Focus: metadata["focus"],
	}
}
