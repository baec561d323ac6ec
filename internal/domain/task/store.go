package task

import "context"

// Store is the persistence port the pipeline and agents write through.
// Implementations must be safe for concurrent use and must hand out deep
// copies so callers never share mutable state with the store.
type Store interface {
	// GetOrCreateUser returns the user's snapshot, seeding defaults for
	// first-time users.
	GetOrCreateUser(ctx context.Context, userID string) (*UserSnapshot, error)

	// Snapshot returns a consistent read-only copy of the user's state.
	Snapshot(ctx context.Context, userID string) (*UserSnapshot, error)

	// PutSnapshot commits a draft snapshot in one atomic write. It fails
	// with a conflict when the stored version moved past the draft's.
	PutSnapshot(ctx context.Context, userID string, snap *UserSnapshot) error

	// AddTask persists a new task.
	AddTask(ctx context.Context, userID string, t *Task) error

	// GetTask retrieves a task by id.
	GetTask(ctx context.Context, userID, taskID string) (*Task, error)

	// UpdateTask replaces a stored task.
	UpdateTask(ctx context.Context, userID string, t *Task) error

	// DeleteTask removes a task.
	DeleteTask(ctx context.Context, userID, taskID string) error

	// ListTasks returns tasks ordered by creation time, optionally
	// filtered to the given statuses.
	ListTasks(ctx context.Context, userID string, statuses ...Status) ([]*Task, error)

	// AddFeedback appends a feedback record.
	AddFeedback(ctx context.Context, userID string, fb Feedback) error

	// ListFeedback returns all feedback records in insertion order.
	ListFeedback(ctx context.Context, userID string) ([]Feedback, error)

	// UpdatePreferences replaces the user's preferences.
	UpdatePreferences(ctx context.Context, userID string, prefs Preferences) error

	// Analytics derives reporting figures for the user.
	Analytics(ctx context.Context, userID string) (*Analytics, error)
}
