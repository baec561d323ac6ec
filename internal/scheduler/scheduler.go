// Package scheduler places a recommended subtask on the user's calendar.
// Placement is advisory-first: no free slot or an oversized estimate
// returns an unscheduled result instead of an error. Write failures do
// propagate, including against a disconnected provider. The event id is
// recorded in the store before Schedule returns, and repeat invocations
// reconcile against existing events rather than duplicating them.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"genie/internal/calendar"
	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/prioritizer"
	"genie/internal/shared/logging"
)

const (
	// SchedulingHorizon bounds how far ahead a subtask may be placed.
	SchedulingHorizon = 2 * time.Hour

	// TrailingBuffer is free time required after the event so sessions do
	// not land back-to-back.
	TrailingBuffer = 5 * time.Minute
)

// Result reports what Schedule did for one recommendation.
type Result struct {
	Scheduled bool              `json:"scheduled"`
	EventID   string            `json:"event_id,omitempty"`
	Window    calendar.Interval `json:"window,omitempty"`

	// Reason explains an unscheduled outcome.
	Reason string `json:"reason,omitempty"`
}

// Scheduler reconciles one subtask with the calendar.
type Scheduler struct {
	calendar calendar.Client
	store    task.Store
	prefix   string
	logger   logging.Logger
	clock    func() time.Time
	observe  PlacementObserver
}

// PlacementObserver counts placement outcomes: "scheduled", "reused", or
// "advisory".
type PlacementObserver func(ctx context.Context, status string)

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithClock overrides time.Now in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithObserver reports every placement outcome to observe.
func WithObserver(observe PlacementObserver) Option {
	return func(s *Scheduler) {
		s.observe = observe
	}
}

// New builds a scheduler. prefix marks every event summary this scheduler
// owns; reconciliation matches on it.
func New(client calendar.Client, store task.Store, prefix string, logger logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		calendar: client,
		store:    store,
		prefix:   prefix,
		logger:   logging.OrNop(logger),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule places the recommended subtask into the earliest free slot of
// the next two hours that fits its estimate plus the trailing buffer. The
// recommendation's Scheduled window is filled in on success.
func (s *Scheduler) Schedule(ctx context.Context, userID string, rec *prioritizer.Recommendation) (*Result, error) {
	if rec.None() {
		return &Result{Reason: "nothing to schedule"}, nil
	}

	t, err := s.store.GetTask(ctx, userID, rec.TaskID)
	if err != nil {
		return nil, err
	}
	st := t.FindSubtask(rec.SubtaskID)
	if st == nil {
		return nil, genieerrors.New(genieerrors.KindNotFound, "scheduler.Schedule",
			"subtask %s not found in task %s", rec.SubtaskID, rec.TaskID)
	}

	if st.Status.IsTerminal() {
		if err := s.releaseEvent(ctx, userID, t, st); err != nil {
			return nil, err
		}
		return &Result{Reason: "subtask is already settled"}, nil
	}
	if !st.Schedulable() {
		s.observePlacement(ctx, "advisory")
		return &Result{Reason: fmt.Sprintf("%q is too large for one calendar session", st.Heading)}, nil
	}

	now := s.clock().UTC()
	horizon := calendar.Interval{Start: now, End: now.Add(SchedulingHorizon)}

	// A handle whose window is still ahead of us is kept as-is. Without
	// this the subtask's own event would read as busy and drift forward on
	// every invocation.
	if st.Event != nil && st.Event.EventID != "" && upcoming(st.Event.Start, st.Event.End, horizon) {
		window := calendar.Interval{Start: st.Event.Start, End: st.Event.End}
		rec.Scheduled = &window
		s.observePlacement(ctx, "reused")
		return &Result{Scheduled: true, EventID: st.Event.EventID, Window: window}, nil
	}

	// A disconnected provider degrades FreeBusy to assume-free; the write
	// below is still attempted so its failure surfaces to the caller.
	availability := s.calendar.FreeBusy(ctx, horizon)

	estimate := time.Duration(st.EstimateMinutes) * time.Minute
	slot, ok := availability.EarliestFreeFitting(estimate + TrailingBuffer)
	if !ok {
		s.observePlacement(ctx, "advisory")
		return &Result{Reason: "no free slot in the next two hours"}, nil
	}
	want := calendar.Interval{Start: slot.Start, End: slot.Start.Add(estimate)}

	eventID, window, err := s.placeEvent(ctx, st, want, horizon)
	if err != nil {
		return nil, err
	}

	if err := s.recordHandle(ctx, userID, t.ID, st.ID, eventID, window); err != nil {
		// The event exists but the handle was lost; the next invocation
		// adopts it by summary instead of creating a duplicate.
		return nil, err
	}

	rec.Scheduled = &window
	s.logger.Info("Scheduled %q at %s as event %s", st.Heading, window.Start.Format(time.RFC3339), eventID)
	s.observePlacement(ctx, "scheduled")
	return &Result{Scheduled: true, EventID: eventID, Window: window}, nil
}

func (s *Scheduler) observePlacement(ctx context.Context, status string) {
	if s.observe != nil {
		s.observe(ctx, status)
	}
}

// Unschedule removes the calendar event backing a subtask, tolerating an
// event the provider already dropped. The pipeline calls it when a subtask
// is completed, cancelled, or rescheduled out of its window.
func (s *Scheduler) Unschedule(ctx context.Context, userID, taskID, subtaskID string) error {
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	st := t.FindSubtask(subtaskID)
	if st == nil {
		return genieerrors.New(genieerrors.KindNotFound, "scheduler.Unschedule",
			"subtask %s not found in task %s", subtaskID, taskID)
	}
	return s.releaseEvent(ctx, userID, t, st)
}

// placeEvent reconciles the subtask with the provider: move an event we
// already track, adopt an orphan carrying our summary, or create a new
// event. It returns the event id and the window the event actually covers.
func (s *Scheduler) placeEvent(ctx context.Context, st *task.Subtask, want, horizon calendar.Interval) (string, calendar.Interval, error) {
	summary := s.prefix + st.Heading

	if st.Event != nil && st.Event.EventID != "" {
		err := s.calendar.UpdateEvent(ctx, st.Event.EventID, calendar.EventPatch{
			Start: &want.Start,
			End:   &want.End,
		})
		if err == nil {
			return st.Event.EventID, want, nil
		}
		if !genieerrors.Is(err, genieerrors.KindNotFound) {
			return "", calendar.Interval{}, err
		}
		// The tracked event vanished provider-side; fall through to the
		// adopt-or-create path.
		s.logger.Warn("Tracked event %s is gone, replacing it", st.Event.EventID)
	}

	if orphan, ok := s.findOrphan(ctx, summary, horizon); ok {
		actual := calendar.Interval{Start: orphan.Start, End: orphan.End}
		if upcoming(orphan.Start, orphan.End, horizon) {
			return orphan.ID, actual, nil
		}
		err := s.calendar.UpdateEvent(ctx, orphan.ID, calendar.EventPatch{
			Start: &want.Start,
			End:   &want.End,
		})
		if err == nil {
			return orphan.ID, want, nil
		}
		if !genieerrors.Is(err, genieerrors.KindNotFound) {
			return "", calendar.Interval{}, err
		}
	}

	input := calendar.EventInput{
		Summary:     summary,
		Description: st.Details,
		Start:       want.Start,
		End:         want.End,
	}
	if st.Resource != nil {
		input.ResourceLink = st.Resource.URL
	}
	eventID, err := s.calendar.CreateEvent(ctx, input)
	if err != nil {
		return "", calendar.Interval{}, err
	}
	return eventID, want, nil
}

// findOrphan looks for an event we created earlier whose store handle was
// lost, matched by exact summary within the horizon.
func (s *Scheduler) findOrphan(ctx context.Context, summary string, horizon calendar.Interval) (calendar.Event, bool) {
	events, err := s.calendar.ListEvents(ctx, horizon)
	if err != nil {
		s.logger.Warn("Orphan scan failed, will create a fresh event: %v", err)
		return calendar.Event{}, false
	}
	for _, ev := range events {
		if ev.Summary == summary {
			return ev, true
		}
	}
	return calendar.Event{}, false
}

// recordHandle persists the event id under the subtask.
func (s *Scheduler) recordHandle(ctx context.Context, userID, taskID, subtaskID, eventID string, window calendar.Interval) error {
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	st := t.FindSubtask(subtaskID)
	if st == nil {
		return genieerrors.New(genieerrors.KindNotFound, "scheduler.Schedule",
			"subtask %s disappeared from task %s", subtaskID, taskID)
	}
	st.Event = &task.EventHandle{
		EventID: eventID,
		Start:   window.Start,
		End:     window.End,
		Summary: s.prefix + st.Heading,
	}
	st.Touch(s.clock())
	return s.store.UpdateTask(ctx, userID, t)
}

// releaseEvent deletes the subtask's calendar event and clears its handle.
func (s *Scheduler) releaseEvent(ctx context.Context, userID string, t *task.Task, st *task.Subtask) error {
	if st.Event == nil || st.Event.EventID == "" {
		return nil
	}
	if err := s.calendar.DeleteEvent(ctx, st.Event.EventID); err != nil {
		return err
	}
	st.Event = nil
	st.Touch(s.clock())
	return s.store.UpdateTask(ctx, userID, t)
}

// upcoming reports whether the event window still lies fully inside the
// horizon.
func upcoming(start, end time.Time, horizon calendar.Interval) bool {
	return !start.Before(horizon.Start) && !end.After(horizon.End)
}
