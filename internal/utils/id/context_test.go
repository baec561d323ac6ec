package id

import (
	"context"
	"strings"
	"testing"
)

func TestWithUserID(t *testing.T) {
	ctx := context.Background()
	ctx = WithUserID(ctx, "user-123")
	if got := UserIDFromContext(ctx); got != "user-123" {
		t.Fatalf("expected user-123, got %s", got)
	}
	// empty user should be ignored
	ctx = WithUserID(ctx, "")
	if got := UserIDFromContext(ctx); got != "user-123" {
		t.Fatalf("expected stored user to remain user-123, got %s", got)
	}
}

func TestEnsureUtteranceID(t *testing.T) {
	ctx := context.Background()

	ctx, generated := EnsureUtteranceID(ctx)
	if !strings.HasPrefix(generated, "utt-") {
		t.Fatalf("unexpected utterance id format: %s", generated)
	}
	if UtteranceIDFromContext(ctx) != generated {
		t.Fatalf("expected stored utterance id %s, got %s", generated, UtteranceIDFromContext(ctx))
	}

	// Should reuse existing value on subsequent calls
	_, reused := EnsureUtteranceID(ctx)
	if reused != generated {
		t.Fatalf("expected to reuse existing id %s, got %s", generated, reused)
	}
}

func TestNewGenerators(t *testing.T) {
	t.Cleanup(func() {
		SetStrategy(StrategyKSUID)
	})

	taskID := NewTaskID()
	if !strings.HasPrefix(taskID, "task-") || len(taskID) <= len("task-") {
		t.Fatalf("unexpected task id format: %s", taskID)
	}

	subtaskID := NewSubtaskID()
	if !strings.HasPrefix(subtaskID, "sub-") || len(subtaskID) <= len("sub-") {
		t.Fatalf("unexpected subtask id format: %s", subtaskID)
	}

	SetStrategy(StrategyUUIDv7)
	taskUUID := NewTaskID()
	if !strings.HasPrefix(taskUUID, "task-") || len(taskUUID) <= len("task-") {
		t.Fatalf("unexpected uuidv7 task id format: %s", taskUUID)
	}
}

func TestParseStrategy(t *testing.T) {
	if ParseStrategy("uuidv7") != StrategyUUIDv7 {
		t.Fatal("expected uuidv7 strategy")
	}
	if ParseStrategy("") != StrategyKSUID {
		t.Fatal("expected ksuid default")
	}
	if ParseStrategy("ksuid") != StrategyKSUID {
		t.Fatal("expected ksuid strategy")
	}
}

func TestGeneratedIdentifiersAreUnique(t *testing.T) {
	t.Cleanup(func() {
		SetStrategy(StrategyKSUID)
	})

	const total = 1024

	seen := make(map[string]struct{}, total*2)
	for i := 0; i < total; i++ {
		taskID := NewTaskID()
		if _, exists := seen[taskID]; exists {
			t.Fatalf("duplicate task id generated: %s", taskID)
		}
		seen[taskID] = struct{}{}

		uttID := NewUtteranceID()
		if _, exists := seen[uttID]; exists {
			t.Fatalf("duplicate utterance id generated: %s", uttID)
		}
		seen[uttID] = struct{}{}
	}
}
