package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"genie/internal/calendar"
	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/prioritizer"
	"genie/internal/shared/logging"
	"genie/internal/store"
)

var testNow = time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)

const (
	testUser   = "u1"
	testPrefix = "[Genie] "
)

func newStore(t *testing.T) *store.FileStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(store.Config{
		Path:      filepath.Join(dir, "progress.json"),
		BackupDir: filepath.Join(dir, "backups"),
		Clock:     func() time.Time { return testNow },
	}, logging.Nop())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	return s
}

// seedTask persists a task with one pending subtask and returns it.
func seedTask(t *testing.T, s *store.FileStore, estimateMinutes int) *task.Task {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetOrCreateUser(ctx, testUser); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	tk := task.NewTask("task-1", "Learn Python", "from scratch", testNow)
	st := task.NewSubtask("sub-1", "Install Python and verify the REPL", "python3 --version works", estimateMinutes, testNow)
	st.Resource = &task.Resource{Title: "Python Downloads", URL: "https://www.python.org/downloads/", Kind: task.ResourceDocs}
	tk.Subtasks = append(tk.Subtasks, st)
	if err := s.AddTask(ctx, testUser, tk); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	return tk
}

func recommendationFor(tk *task.Task) *prioritizer.Recommendation {
	return &prioritizer.Recommendation{
		TaskID:         tk.ID,
		SubtaskID:      tk.Subtasks[0].ID,
		TaskHeading:    tk.Heading,
		SubtaskHeading: tk.Subtasks[0].Heading,
	}
}

func newScheduler(cal calendar.Client, s *store.FileStore) *Scheduler {
	return New(cal, s, testPrefix, logging.Nop(), WithClock(func() time.Time { return testNow }))
}

func storedHandle(t *testing.T, s *store.FileStore) *task.EventHandle {
	t.Helper()
	tk, err := s.GetTask(context.Background(), testUser, "task-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	return tk.Subtasks[0].Event
}

func TestSchedulePlacesEarliestFit(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	// The first half hour is taken; 25 min + 5 min buffer fits from 09:30.
	cal.BusyBlocks = []calendar.Interval{{Start: testNow, End: testNow.Add(30 * time.Minute)}}

	rec := recommendationFor(tk)
	result, err := newScheduler(cal, s).Schedule(context.Background(), testUser, rec)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !result.Scheduled {
		t.Fatalf("result = %+v, want scheduled", result)
	}

	wantStart := testNow.Add(30 * time.Minute)
	if !result.Window.Start.Equal(wantStart) || !result.Window.End.Equal(wantStart.Add(25*time.Minute)) {
		t.Errorf("window = %v-%v, want %v-%v", result.Window.Start, result.Window.End, wantStart, wantStart.Add(25*time.Minute))
	}

	ev, ok := cal.Event(result.EventID)
	if !ok {
		t.Fatal("event missing from calendar")
	}
	if ev.Summary != "[Genie] Install Python and verify the REPL" {
		t.Errorf("summary = %q", ev.Summary)
	}
	if !strings.Contains(ev.Description, "Resource: https://www.python.org/downloads/") {
		t.Errorf("description = %q, want the resource link appended", ev.Description)
	}

	handle := storedHandle(t, s)
	if handle == nil || handle.EventID != result.EventID {
		t.Errorf("stored handle = %+v, want event %s", handle, result.EventID)
	}
	if rec.Scheduled == nil || !rec.Scheduled.Start.Equal(wantStart) {
		t.Errorf("recommendation window = %+v", rec.Scheduled)
	}
}

func TestScheduleRepeatReusesEvent(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	sched := newScheduler(cal, s)

	first, err := sched.Schedule(context.Background(), testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("first Schedule() error = %v", err)
	}
	second, err := sched.Schedule(context.Background(), testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("second Schedule() error = %v", err)
	}

	if second.EventID != first.EventID {
		t.Errorf("second run used event %s, want %s", second.EventID, first.EventID)
	}
	if !second.Window.Start.Equal(first.Window.Start) {
		t.Errorf("second run moved the event to %v", second.Window.Start)
	}
	if cal.Creates != 1 || cal.Updates != 0 {
		t.Errorf("creates = %d, updates = %d, want exactly one create", cal.Creates, cal.Updates)
	}
}

func TestScheduleNoSlotIsAdvisory(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	cal.BusyBlocks = []calendar.Interval{{Start: testNow, End: testNow.Add(SchedulingHorizon)}}

	result, err := newScheduler(cal, s).Schedule(context.Background(), testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.Scheduled || cal.Creates != 0 {
		t.Errorf("result = %+v, creates = %d, want advisory-only", result, cal.Creates)
	}
	if !strings.Contains(result.Reason, "no free slot") {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestScheduleOfflineCalendarPropagatesWriteError(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	cal.Offline = true

	_, err := newScheduler(cal, s).Schedule(context.Background(), testUser, recommendationFor(tk))
	if err == nil {
		t.Fatal("Schedule() succeeded against an offline calendar, want the write failure surfaced")
	}
	if !genieerrors.Is(err, genieerrors.KindTransientExternal) {
		t.Errorf("error kind = %v, want transient_external", genieerrors.KindOf(err))
	}
	if cal.Creates != 0 {
		t.Errorf("creates = %d, a failed write must not record an event", cal.Creates)
	}
	if handle := storedHandle(t, s); handle != nil {
		t.Errorf("stored handle = %+v, want none after a failed write", handle)
	}
}

func TestScheduleAdoptsOrphanedEvent(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	// An earlier run created the event but the store write failed.
	cal.SeedEvent(calendar.Event{
		ID:      "evt-orphan",
		Summary: "[Genie] Install Python and verify the REPL",
		Start:   testNow.Add(10 * time.Minute),
		End:     testNow.Add(35 * time.Minute),
	})

	result, err := newScheduler(cal, s).Schedule(context.Background(), testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !result.Scheduled || result.EventID != "evt-orphan" {
		t.Fatalf("result = %+v, want the orphan adopted", result)
	}
	if cal.Creates != 0 {
		t.Errorf("creates = %d, adoption must not duplicate the event", cal.Creates)
	}
	if !result.Window.Start.Equal(testNow.Add(10 * time.Minute)) {
		t.Errorf("window = %v, want the orphan's own window kept", result.Window.Start)
	}
	handle := storedHandle(t, s)
	if handle == nil || handle.EventID != "evt-orphan" {
		t.Errorf("stored handle = %+v", handle)
	}
}

func TestScheduleMovesStaleEvent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.GetOrCreateUser(ctx, testUser); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	// The tracked event sits in the past: it must be moved, not duplicated.
	tk := task.NewTask("task-1", "Learn Python", "", testNow)
	st := task.NewSubtask("sub-1", "Install Python and verify the REPL", "", 25, testNow)
	st.Event = &task.EventHandle{
		EventID: "evt-old",
		Start:   testNow.Add(-time.Hour),
		End:     testNow.Add(-35 * time.Minute),
		Summary: "[Genie] Install Python and verify the REPL",
	}
	tk.Subtasks = append(tk.Subtasks, st)
	if err := s.AddTask(ctx, testUser, tk); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	cal := calendar.NewMockClient()
	cal.SeedEvent(calendar.Event{
		ID:      "evt-old",
		Summary: "[Genie] Install Python and verify the REPL",
		Start:   testNow.Add(-time.Hour),
		End:     testNow.Add(-35 * time.Minute),
	})

	result, err := newScheduler(cal, s).Schedule(ctx, testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.EventID != "evt-old" {
		t.Fatalf("result = %+v, want the tracked event reused", result)
	}
	if cal.Creates != 0 || cal.Updates != 1 {
		t.Errorf("creates = %d, updates = %d, want one update", cal.Creates, cal.Updates)
	}
	ev, _ := cal.Event("evt-old")
	if !ev.Start.Equal(testNow) {
		t.Errorf("event start = %v, want moved to %v", ev.Start, testNow)
	}
}

func TestScheduleOversizedEstimateNeverReachesCalendar(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 45)
	cal := calendar.NewMockClient()

	result, err := newScheduler(cal, s).Schedule(context.Background(), testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.Scheduled || cal.Creates != 0 {
		t.Errorf("result = %+v, creates = %d, oversized subtasks stay off the calendar", result, cal.Creates)
	}
}

func TestScheduleSettledSubtaskReleasesEvent(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	sched := newScheduler(cal, s)
	ctx := context.Background()

	if _, err := sched.Schedule(ctx, testUser, recommendationFor(tk)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	stored, err := s.GetTask(ctx, testUser, tk.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	stored.Subtasks[0].Status = task.StatusDone
	if err := s.UpdateTask(ctx, testUser, stored); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	result, err := sched.Schedule(ctx, testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("Schedule() after completion error = %v", err)
	}
	if result.Scheduled {
		t.Fatalf("result = %+v, settled subtasks must not be scheduled", result)
	}
	if cal.Deletes != 1 {
		t.Errorf("deletes = %d, want the stale event removed", cal.Deletes)
	}
	if handle := storedHandle(t, s); handle != nil {
		t.Errorf("stored handle = %+v, want cleared", handle)
	}
}

func TestUnscheduleDeletesEventAndClearsHandle(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()
	sched := newScheduler(cal, s)
	ctx := context.Background()

	first, err := sched.Schedule(ctx, testUser, recommendationFor(tk))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := sched.Unschedule(ctx, testUser, tk.ID, tk.Subtasks[0].ID); err != nil {
		t.Fatalf("Unschedule() error = %v", err)
	}

	if _, ok := cal.Event(first.EventID); ok {
		t.Error("event still on the calendar after Unschedule")
	}
	if handle := storedHandle(t, s); handle != nil {
		t.Errorf("stored handle = %+v, want cleared", handle)
	}
}

func TestScheduleEmptyRecommendationIsNoop(t *testing.T) {
	s := newStore(t)
	cal := calendar.NewMockClient()

	result, err := newScheduler(cal, s).Schedule(context.Background(), testUser,
		&prioritizer.Recommendation{Reasoning: prioritizer.NoFitReasoning})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.Scheduled || cal.Creates != 0 {
		t.Errorf("result = %+v, want nothing scheduled", result)
	}
}

func TestPlacementObserverCountsOutcomes(t *testing.T) {
	s := newStore(t)
	tk := seedTask(t, s, 25)
	cal := calendar.NewMockClient()

	statuses := map[string]int{}
	sched := New(cal, s, testPrefix, logging.Nop(),
		WithClock(func() time.Time { return testNow }),
		WithObserver(func(_ context.Context, status string) { statuses[status]++ }))

	ctx := context.Background()
	if _, err := sched.Schedule(ctx, testUser, recommendationFor(tk)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := sched.Schedule(ctx, testUser, recommendationFor(tk)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := sched.Unschedule(ctx, testUser, tk.ID, tk.Subtasks[0].ID); err != nil {
		t.Fatalf("Unschedule() error = %v", err)
	}
	cal.BusyBlocks = []calendar.Interval{{Start: testNow, End: testNow.Add(SchedulingHorizon)}}
	if _, err := sched.Schedule(ctx, testUser, recommendationFor(tk)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if statuses["scheduled"] != 1 || statuses["reused"] != 1 || statuses["advisory"] != 1 {
		t.Errorf("statuses = %v", statuses)
	}
}
