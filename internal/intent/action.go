// Package intent turns one user utterance into an ordered list of typed
// actions against the user's task list. The LLM proposes actions as JSON;
// this package validates them into a closed set of variants and resolves
// their task targets. A response that cannot be parsed at all falls back to
// a single add action carrying the raw utterance, so user input is never
// lost.
package intent

import (
	"time"
)

// Kind tags an action variant.
type Kind string

const (
	KindAdd           Kind = "add"
	KindEdit          Kind = "edit"
	KindMarkDone      Kind = "mark_done"
	KindReschedule    Kind = "reschedule"
	KindAddSubtask    Kind = "add_subtask"
	KindDelete        Kind = "delete"
	KindQueryProgress Kind = "query_progress"
	KindQueryNext     Kind = "query_next"
)

// TargetLastTask is the literal the model uses for "the task the user just
// created".
const TargetLastTask = "last_task"

// Action is the closed set of operations an utterance can produce. The
// pipeline dispatches on the concrete type.
type Action interface {
	Kind() Kind
}

// SubtaskSeed is a user- or model-supplied subtask outline.
type SubtaskSeed struct {
	Heading         string
	Details         string
	Deadline        *time.Time
	EstimateMinutes int
}

// Add creates a new task.
type Add struct {
	Heading         string
	Details         string
	Deadline        *time.Time
	EstimateMinutes int
	Subtasks        []SubtaskSeed
}

func (Add) Kind() Kind { return KindAdd }

// TaskPatch carries the fields an edit changes. Nil fields stay untouched.
type TaskPatch struct {
	Heading         *string
	Details         *string
	Deadline        *time.Time
	EstimateMinutes *int
}

// IsZero reports whether the patch changes nothing.
func (p TaskPatch) IsZero() bool {
	return p.Heading == nil && p.Details == nil && p.Deadline == nil && p.EstimateMinutes == nil
}

// Edit modifies fields of an existing task.
type Edit struct {
	Target string
	Patch  TaskPatch
}

func (Edit) Kind() Kind { return KindEdit }

// MarkDone completes a task, cascading to its open subtasks.
type MarkDone struct {
	Target string
}

func (MarkDone) Kind() Kind { return KindMarkDone }

// Reschedule moves a task's deadline and invalidates any calendar
// placement of its subtasks.
type Reschedule struct {
	Target   string
	Deadline time.Time
}

func (Reschedule) Kind() Kind { return KindReschedule }

// AddSubtask appends one subtask to an existing task.
type AddSubtask struct {
	Target  string
	Subtask SubtaskSeed
}

func (AddSubtask) Kind() Kind { return KindAddSubtask }

// Delete removes a task entirely.
type Delete struct {
	Target string
}

func (Delete) Kind() Kind { return KindDelete }

// QueryProgress asks for a status summary.
type QueryProgress struct{}

func (QueryProgress) Kind() Kind { return KindQueryProgress }

// QueryNext asks for a recommendation.
type QueryNext struct{}

func (QueryNext) Kind() Kind { return KindQueryNext }
