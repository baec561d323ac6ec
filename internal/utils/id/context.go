package id

import "context"

type contextKey string

const (
	userKey      contextKey = "genie_user_id"
	utteranceKey contextKey = "genie_utterance_id"
)

// WithUserID stores the acting user identifier on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext extracts the acting user identifier from context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(userKey).(string); ok {
		return userID
	}
	return ""
}

// WithUtteranceID stores the utterance identifier on the context.
func WithUtteranceID(ctx context.Context, utteranceID string) context.Context {
	if utteranceID == "" {
		return ctx
	}
	return context.WithValue(ctx, utteranceKey, utteranceID)
}

// UtteranceIDFromContext extracts the utterance identifier from context.
func UtteranceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if utteranceID, ok := ctx.Value(utteranceKey).(string); ok {
		return utteranceID
	}
	return ""
}

// EnsureUtteranceID guarantees an utterance identifier is present on the
// context, generating one when missing. It returns the updated context and
// the resulting identifier.
func EnsureUtteranceID(ctx context.Context) (context.Context, string) {
	if existing := UtteranceIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	next := NewUtteranceID()
	return WithUtteranceID(ctx, next), next
}
