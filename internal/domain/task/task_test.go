package task

import (
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func sampleTask() *Task {
	t := NewTask("task-1", "Learn Go", "work through the tour", testNow)
	t.Subtasks = []*Subtask{
		NewSubtask("sub-1", "Install the toolchain", "", 15, testNow),
		NewSubtask("sub-2", "Complete the basics section", "", 30, testNow),
		NewSubtask("sub-3", "Write a small program", "", 25, testNow),
	}
	return t
}

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusDone, true},
		{StatusPending, StatusCancelled, true},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusPending, false},
		{StatusDone, StatusPending, false},
		{StatusDone, StatusInProgress, false},
		{StatusCancelled, StatusDone, false},
		{StatusDone, StatusDone, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus(" In_Progress "); !ok || s != StatusInProgress {
		t.Errorf("ParseStatus(In_Progress) = %q, %v", s, ok)
	}
	if _, ok := ParseStatus("paused"); ok {
		t.Error("ParseStatus(paused) should not parse")
	}
}

func TestMarkDoneCascades(t *testing.T) {
	task := sampleTask()
	task.Subtasks[0].Status = StatusDone
	task.Subtasks[1].Status = StatusInProgress
	task.Subtasks[2].Status = StatusCancelled

	later := testNow.Add(time.Hour)
	task.MarkDone(later)

	if task.Status != StatusDone {
		t.Fatalf("task status = %s, want done", task.Status)
	}
	wantStatuses := []Status{StatusDone, StatusDone, StatusCancelled}
	for i, st := range task.Subtasks {
		if st.Status != wantStatuses[i] {
			t.Errorf("subtask %d status = %s, want %s", i, st.Status, wantStatuses[i])
		}
	}
	if !task.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", task.UpdatedAt, later)
	}
	// Cancelled subtask must keep its original timestamp
	if !task.Subtasks[2].UpdatedAt.Equal(testNow) {
		t.Errorf("cancelled subtask UpdatedAt changed to %v", task.Subtasks[2].UpdatedAt)
	}
}

func TestSyncStatusCompletesSettledTask(t *testing.T) {
	task := sampleTask()
	task.Subtasks[0].Status = StatusDone
	task.Subtasks[1].Status = StatusCancelled
	task.Subtasks[2].Status = StatusDone

	task.SyncStatus(testNow.Add(time.Minute))
	if task.Status != StatusDone {
		t.Fatalf("task status = %s, want done (cancelled steps do not block)", task.Status)
	}
}

func TestSyncStatusLeavesOpenTaskAlone(t *testing.T) {
	task := sampleTask()
	task.Subtasks[0].Status = StatusDone

	task.SyncStatus(testNow)
	if task.Status != StatusPending {
		t.Fatalf("task status = %s, want pending while subtasks remain", task.Status)
	}

	bare := NewTask("task-2", "No subtasks", "", testNow)
	bare.SyncStatus(testNow)
	if bare.Status != StatusPending {
		t.Fatalf("task without subtasks must not auto-complete, got %s", bare.Status)
	}
}

func TestSubtaskSchedulable(t *testing.T) {
	tests := []struct {
		name string
		st   *Subtask
		want bool
	}{
		{"pending within cap", NewSubtask("s", "h", "", 30, testNow), true},
		{"pending above cap", NewSubtask("s", "h", "", 45, testNow), false},
		{"no estimate", NewSubtask("s", "h", "", 0, testNow), false},
		{"done", &Subtask{Status: StatusDone, EstimateMinutes: 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.Schedulable(); got != tt.want {
				t.Errorf("Schedulable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPendingSubtasksRespectsLimit(t *testing.T) {
	task := sampleTask()
	task.Subtasks[1].Status = StatusDone

	got := task.PendingSubtasks(1)
	if len(got) != 1 || got[0].ID != "sub-1" {
		t.Fatalf("PendingSubtasks(1) = %v", got)
	}
	if all := task.PendingSubtasks(0); len(all) != 2 {
		t.Fatalf("PendingSubtasks(0) returned %d, want 2", len(all))
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	task := sampleTask()
	deadline := testNow.Add(48 * time.Hour)
	task.Deadline = &deadline
	task.Subtasks[0].Resource = &Resource{Title: "Tour of Go", URL: "https://go.dev/tour", Kind: ResourceTutorial}
	task.Subtasks[0].Event = &EventHandle{EventID: "ev-1", Start: testNow, End: testNow.Add(30 * time.Minute), Summary: "[Genie] Install the toolchain"}

	clone := task.Clone()
	clone.Heading = "changed"
	clone.Subtasks[0].Status = StatusDone
	clone.Subtasks[0].Resource.Title = "changed"
	clone.Subtasks[0].Event.EventID = "changed"
	*clone.Deadline = clone.Deadline.Add(time.Hour)

	if task.Heading != "Learn Go" {
		t.Error("clone mutation leaked into original heading")
	}
	if task.Subtasks[0].Status != StatusPending {
		t.Error("clone mutation leaked into original subtask status")
	}
	if task.Subtasks[0].Resource.Title != "Tour of Go" {
		t.Error("clone mutation leaked into original resource")
	}
	if task.Subtasks[0].Event.EventID != "ev-1" {
		t.Error("clone mutation leaked into original event handle")
	}
	if !task.Deadline.Equal(deadline) {
		t.Error("clone mutation leaked into original deadline")
	}
}

func TestNormalizeResourceKind(t *testing.T) {
	tests := []struct {
		in   string
		want ResourceKind
	}{
		{"video", ResourceVideo},
		{" Tutorial ", ResourceTutorial},
		{"DOCS", ResourceDocs},
		{"article", ResourceArticle},
		{"podcast", ResourceArticle},
		{"", ResourceArticle},
	}
	for _, tt := range tests {
		if got := NormalizeResourceKind(tt.in); got != tt.want {
			t.Errorf("NormalizeResourceKind(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
