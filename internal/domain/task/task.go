// Package task defines the task domain model shared across the assistant:
// tasks with one level of subtasks, user preferences, feedback history,
// energy patterns, and the store port every component persists through.
package task

import (
	"strings"
	"time"
)

// DefaultUserID owns data migrated from legacy single-user progress files.
const DefaultUserID = "default_user"

// MaxSchedulableMinutes caps the estimate a subtask may carry and still be
// handed to the calendar. Larger subtasks stay pending and flagged.
const MaxSchedulableMinutes = 30

// Status represents the lifecycle state of a task or subtask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next preserves the
// monotone lifecycle. A status may always restate itself.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusDone || next == StatusCancelled
	case StatusInProgress:
		return next == StatusDone || next == StatusCancelled
	default:
		return false
	}
}

// ParseStatus maps free-form text to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusDone:
		return StatusDone, true
	case StatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}

// ResourceKind categorizes a learning resource.
type ResourceKind string

const (
	ResourceArticle  ResourceKind = "article"
	ResourceVideo    ResourceKind = "video"
	ResourceTutorial ResourceKind = "tutorial"
	ResourceDocs     ResourceKind = "docs"
)

// NormalizeResourceKind maps free-form provider output to a known kind,
// defaulting to article.
func NormalizeResourceKind(s string) ResourceKind {
	switch ResourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case ResourceVideo:
		return ResourceVideo
	case ResourceTutorial:
		return ResourceTutorial
	case ResourceDocs:
		return ResourceDocs
	default:
		return ResourceArticle
	}
}

// Resource is a single learning resource attached to a subtask.
type Resource struct {
	Title string       `json:"title"`
	URL   string       `json:"url"`
	Kind  ResourceKind `json:"kind"`
	Focus string       `json:"focus,omitempty"`
}

// EventHandle records the calendar event backing a scheduled subtask.
type EventHandle struct {
	EventID string    `json:"event_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary"`
}

// Subtask is one step of a task. Subtasks never nest further.
type Subtask struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Details string `json:"details,omitempty"`
	Status  Status `json:"status"`

	// EstimateMinutes is the planned focused-work duration.
	EstimateMinutes int `json:"time_estimate,omitempty"`

	// Resource holds at most one learning resource for this step.
	Resource *Resource `json:"resource,omitempty"`

	// Event is set once the subtask has a calendar event.
	Event *EventHandle `json:"calendar_event,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSubtask builds a pending subtask with timestamps set.
func NewSubtask(id, heading, details string, estimateMinutes int, now time.Time) *Subtask {
	return &Subtask{
		ID:              id,
		Heading:         heading,
		Details:         details,
		Status:          StatusPending,
		EstimateMinutes: estimateMinutes,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
}

// Schedulable reports whether the subtask may be placed on the calendar.
func (st *Subtask) Schedulable() bool {
	return st.Status == StatusPending &&
		st.EstimateMinutes > 0 &&
		st.EstimateMinutes <= MaxSchedulableMinutes
}

// Touch bumps the modification timestamp.
func (st *Subtask) Touch(now time.Time) {
	st.UpdatedAt = now.UTC()
}

// Clone returns a deep copy.
func (st *Subtask) Clone() *Subtask {
	if st == nil {
		return nil
	}
	out := *st
	if st.Resource != nil {
		r := *st.Resource
		out.Resource = &r
	}
	if st.Event != nil {
		e := *st.Event
		out.Event = &e
	}
	return &out
}

// Task is one top-level unit of work owned by a user.
type Task struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Details string `json:"details,omitempty"`
	Status  Status `json:"status"`

	// Deadline is stored UTC when present.
	Deadline *time.Time `json:"deadline,omitempty"`

	// EstimateMinutes is the user's own whole-task estimate, if stated.
	EstimateMinutes int `json:"time_estimate,omitempty"`

	// ResourceLink is a user-supplied reference for the whole task.
	ResourceLink string `json:"resource_link,omitempty"`

	Subtasks []*Subtask `json:"subtasks"`

	// NeedsPlanning marks tasks whose breakdown failed or has not run.
	NeedsPlanning bool `json:"needs_planning,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask builds a pending task with timestamps set.
func NewTask(id, heading, details string, now time.Time) *Task {
	return &Task{
		ID:        id,
		Heading:   heading,
		Details:   details,
		Status:    StatusPending,
		Subtasks:  []*Subtask{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Touch bumps the modification timestamp.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now.UTC()
}

// FindSubtask returns the subtask with the given id, or nil.
func (t *Task) FindSubtask(id string) *Subtask {
	for _, st := range t.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// PendingSubtasks returns up to limit pending subtasks in plan order.
// limit <= 0 means no limit.
func (t *Task) PendingSubtasks(limit int) []*Subtask {
	var out []*Subtask
	for _, st := range t.Subtasks {
		if st.Status != StatusPending {
			continue
		}
		out = append(out, st)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// SubtasksSettled reports whether every subtask is done or cancelled.
// Cancelled steps do not block completion.
func (t *Task) SubtasksSettled() bool {
	for _, st := range t.Subtasks {
		if !st.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// MarkDone completes the task, cascading every open subtask to done.
func (t *Task) MarkDone(now time.Time) {
	for _, st := range t.Subtasks {
		if !st.Status.IsTerminal() {
			st.Status = StatusDone
			st.Touch(now)
		}
	}
	t.Status = StatusDone
	t.Touch(now)
}

// SyncStatus completes a task whose subtasks have all settled. It is called
// after any subtask status change.
func (t *Task) SyncStatus(now time.Time) {
	if len(t.Subtasks) == 0 || t.Status.IsTerminal() {
		return
	}
	if t.SubtasksSettled() {
		t.Status = StatusDone
		t.Touch(now)
	}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	out.Subtasks = make([]*Subtask, len(t.Subtasks))
	for i, st := range t.Subtasks {
		out.Subtasks[i] = st.Clone()
	}
	return &out
}
