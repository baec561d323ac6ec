package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithObserverReportsCalls(t *testing.T) {
	mock := NewMockClient()
	mock.Enqueue("extract_task", `[]`)
	mock.FailWith("breakdown_task", errors.New("boom"))

	type call struct {
		prompt string
		status string
	}
	var calls []call
	client := WithObserver(mock, func(_ context.Context, prompt, status string, _ time.Duration) {
		calls = append(calls, call{prompt, status})
	})

	if _, err := client.Complete(context.Background(), "extract_task", nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := client.Complete(context.Background(), "breakdown_task", nil); err == nil {
		t.Fatal("want an error from the failing prompt")
	}

	want := []call{{"extract_task", "ok"}, {"breakdown_task", "error"}}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestWithObserverNilPassesThrough(t *testing.T) {
	mock := NewMockClient()
	if got := WithObserver(mock, nil); got != Client(mock) {
		t.Error("nil observer should return the client unchanged")
	}
}
