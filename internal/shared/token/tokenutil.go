// Package tokenutil counts and truncates text by model tokens, backed by
// tiktoken's cl100k_base encoding. When the encoding cannot be loaded a
// character heuristic takes over, so callers never fail on counting.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func load() *tiktoken.Tiktoken {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the token count of text.
func CountTokens(text string) int {
	if enc := load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

// TruncateToTokens cuts text down to at most maxTokens tokens, marking the
// cut with an ellipsis. Non-positive limits leave the text unchanged.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}

// estimate is the no-encoding fallback: max(runes/4, word count), minimum 1
// for non-empty text.
func estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	n := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}
