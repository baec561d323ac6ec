package llm

import (
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	genieerrors "genie/internal/errors"
	jsonx "genie/internal/shared/json"
)

// fencedBlockPattern matches the first markdown code fence in a response,
// with or without a json language tag.
var fencedBlockPattern = regexp.MustCompile("(?si)```(?:json)?\\s*(.*?)```")

// SanitizeJSON extracts the JSON payload from raw model output. Models wrap
// answers in prose and markdown fences despite instructions not to; this
// strips both, then runs JSON repair on anything still malformed (trailing
// commas, single quotes, unquoted keys). Failures classify as invalid LLM
// output so callers can fall back instead of retrying.
func SanitizeJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", genieerrors.New(genieerrors.KindInvalidLLMOutput, "llm.SanitizeJSON", "empty response")
	}

	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	text = sliceJSONPayload(text)
	if text == "" {
		return "", genieerrors.New(genieerrors.KindInvalidLLMOutput, "llm.SanitizeJSON", "no JSON payload in response")
	}

	if jsonx.Valid([]byte(text)) {
		return text, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return "", genieerrors.Wrap(genieerrors.KindInvalidLLMOutput, "llm.SanitizeJSON", err, "response is not valid JSON")
	}
	if !jsonx.Valid([]byte(repaired)) {
		return "", genieerrors.New(genieerrors.KindInvalidLLMOutput, "llm.SanitizeJSON", "repair produced invalid JSON")
	}
	return repaired, nil
}

// sliceJSONPayload cuts leading and trailing prose around the outermost JSON
// object or array. Returns "" when the text holds neither.
func sliceJSONPayload(text string) string {
	start := -1
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := -1
	for i := len(text) - 1; i >= start; i-- {
		if text[i] == '}' || text[i] == ']' {
			end = i
			break
		}
	}
	if end < start {
		// An opening brace with no closer: keep the tail and let repair
		// complete the structure.
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : end+1])
}
