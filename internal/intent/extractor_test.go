package intent

import (
	"context"
	"strings"
	"testing"
	"time"

	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/llm"
	"genie/internal/shared/logging"
)

var testNow = time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)

func snapshotWithTasks() *task.UserSnapshot {
	snap := task.NewUserSnapshot(testNow)
	python := task.NewTask("task-1", "Learn Python", "", testNow)
	python.Subtasks = append(python.Subtasks,
		task.NewSubtask("sub-1", "Install Python and verify the REPL", "", 20, testNow))
	taxes := task.NewTask("task-2", "File taxes", "", testNow.Add(time.Minute))
	snap.Tasks = map[string]*task.Task{python.ID: python, taxes.ID: taxes}
	return snap
}

func TestExtractDecodesActionList(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Enqueue("extract_task", `[
		{"action": "add", "heading": "Write blog post", "details": "about caching",
		 "deadline": "2025-09-30T00:00:00", "time_estimate": 120},
		{"action": "mark_done", "target_task": "task-2"},
		{"action": "query_next"}
	]`)
	extractor := New(mock, logging.Nop())

	result, err := extractor.Extract(context.Background(), "write a blog post, taxes are done, what's next", snapshotWithTasks(), testNow)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Fallback {
		t.Fatal("Extract() fell back on valid output")
	}
	if len(result.Actions) != 3 {
		t.Fatalf("actions = %d, want 3", len(result.Actions))
	}

	add, ok := result.Actions[0].(Add)
	if !ok {
		t.Fatalf("first action = %T, want Add", result.Actions[0])
	}
	if add.Heading != "Write blog post" || add.Details != "about caching" {
		t.Errorf("add = %+v", add)
	}
	if add.Deadline == nil || !add.Deadline.Equal(time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("add deadline = %v, want 2025-09-30", add.Deadline)
	}

	if done, ok := result.Actions[1].(MarkDone); !ok || done.Target != "task-2" {
		t.Errorf("second action = %+v, want MarkDone task-2", result.Actions[1])
	}
	if _, ok := result.Actions[2].(QueryNext); !ok {
		t.Errorf("third action = %T, want QueryNext", result.Actions[2])
	}
}

func TestExtractPassesGraphAndUtterance(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Enqueue("extract_task", `[{"action":"query_progress"}]`)
	extractor := New(mock, logging.Nop())

	if _, err := extractor.Extract(context.Background(), "how am I doing?", snapshotWithTasks(), testNow); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 || calls[0].PromptName != "extract_task" {
		t.Fatalf("calls = %+v", calls)
	}
	graph := calls[0].Vars["existing_tasks_json"]
	for _, want := range []string{"task-1", "Learn Python", "sub-1", "task-2"} {
		if !strings.Contains(graph, want) {
			t.Errorf("graph json missing %q: %s", want, graph)
		}
	}
	if calls[0].Vars["user_input"] != "how am I doing?" {
		t.Errorf("user_input = %q", calls[0].Vars["user_input"])
	}
	if calls[0].Vars["current_time_utc"] != "2025-09-15T09:00:00" {
		t.Errorf("current_time_utc = %q", calls[0].Vars["current_time_utc"])
	}
}

func TestExtractDropsMalformedAndUnknownActions(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Enqueue("extract_task", `[
		{"action": "add"},
		{"action": "summon_demon", "heading": "nope"},
		{"action": "edit", "target_task": "task-1"},
		{"action": "delete", "target_task": "task-2"}
	]`)
	extractor := New(mock, logging.Nop())

	result, err := extractor.Extract(context.Background(), "clean up", snapshotWithTasks(), testNow)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(result.Actions) != 1 {
		t.Fatalf("actions = %+v, want only the delete", result.Actions)
	}
	if del, ok := result.Actions[0].(Delete); !ok || del.Target != "task-2" {
		t.Errorf("surviving action = %+v, want Delete task-2", result.Actions[0])
	}
	if len(result.Warnings) != 3 {
		t.Errorf("warnings = %v, want 3", result.Warnings)
	}
}

func TestExtractFallsBackOnGarbage(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Enqueue("extract_task", "I'm sorry, I can't help with that.")
	extractor := New(mock, logging.Nop())

	utterance := "write blog post about caching"
	result, err := extractor.Extract(context.Background(), utterance, snapshotWithTasks(), testNow)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !result.Fallback {
		t.Fatal("Extract() did not mark fallback")
	}
	if len(result.Actions) != 1 {
		t.Fatalf("actions = %+v, want single fallback add", result.Actions)
	}
	add, ok := result.Actions[0].(Add)
	if !ok || add.Heading != utterance || add.Details != utterance {
		t.Errorf("fallback add = %+v, want raw utterance", result.Actions[0])
	}
}

func TestExtractFallsBackOnTransientFailure(t *testing.T) {
	mock := llm.NewMockClient()
	mock.FailWith("extract_task", genieerrors.New(genieerrors.KindTransientExternal, "llm.Complete", "provider returned 503"))
	extractor := New(mock, logging.Nop())

	result, err := extractor.Extract(context.Background(), "add task A", snapshotWithTasks(), testNow)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !result.Fallback {
		t.Error("transient failure should fall back, not fail")
	}
}

func TestExtractPropagatesAuthFailure(t *testing.T) {
	mock := llm.NewMockClient()
	mock.FailWith("extract_task", genieerrors.New(genieerrors.KindFatalExternal, "llm.Complete", "authentication failed"))
	extractor := New(mock, logging.Nop())

	_, err := extractor.Extract(context.Background(), "add task A", snapshotWithTasks(), testNow)
	if !genieerrors.Is(err, genieerrors.KindFatalExternal) {
		t.Errorf("Extract() kind = %v, want fatal_external", genieerrors.KindOf(err))
	}
}

func TestExtractRejectsEmptyUtterance(t *testing.T) {
	extractor := New(llm.NewMockClient(), logging.Nop())
	_, err := extractor.Extract(context.Background(), "   ", snapshotWithTasks(), testNow)
	if !genieerrors.Is(err, genieerrors.KindValidation) {
		t.Errorf("Extract() kind = %v, want validation", genieerrors.KindOf(err))
	}
}

func TestExtractAcceptsFencedSingleObject(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Enqueue("extract_task", "```json\n{\"action\":\"add\",\"heading\":\"Plan trip\"}\n```")
	extractor := New(mock, logging.Nop())

	result, err := extractor.Extract(context.Background(), "plan a trip", snapshotWithTasks(), testNow)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Fallback || len(result.Actions) != 1 {
		t.Fatalf("result = %+v, want one parsed add", result)
	}
	if add, ok := result.Actions[0].(Add); !ok || add.Heading != "Plan trip" {
		t.Errorf("action = %+v", result.Actions[0])
	}
}

func TestResolveTargets(t *testing.T) {
	snap := snapshotWithTasks()

	tests := []struct {
		name    string
		target  string
		wantID  string
		wantWar bool
	}{
		{"exact id", "task-1", "task-1", false},
		{"heading equality", "file taxes", "task-2", false},
		{"unique substring", "python", "task-1", false},
		{"last task literal", "last_task", "task-2", false},
		{"ambiguous substring", "le", "", true},
		{"no match", "water the plants", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warning := Resolve(snap, tt.target)
			if tt.wantWar {
				if warning == "" || got != nil {
					t.Errorf("Resolve(%q) = %v, %q; want warning", tt.target, got, warning)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("Resolve(%q) = %v, want %s", tt.target, got, tt.wantID)
			}
		})
	}
}

func TestGraphJSONEmptySnapshot(t *testing.T) {
	if got := GraphJSON(task.NewUserSnapshot(testNow)); got != "[]" {
		t.Errorf("GraphJSON(empty) = %q, want []", got)
	}
	if got := GraphJSON(nil); got != "[]" {
		t.Errorf("GraphJSON(nil) = %q, want []", got)
	}
}
