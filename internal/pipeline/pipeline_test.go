package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"genie/internal/calendar"
	"genie/internal/domain/task"
	"genie/internal/intent"
	"genie/internal/llm"
	"genie/internal/planner"
	"genie/internal/prioritizer"
	"genie/internal/scheduler"
	"genie/internal/shared/logging"
	"genie/internal/store"
)

var testNow = time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)

const testUser = "u1"

type fixture struct {
	llm   *llm.MockClient
	cal   *calendar.MockClient
	store *store.FileStore
	pipe  *Pipeline

	mu     sync.Mutex
	events []Event
}

func (f *fixture) record(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fixture) stages() []Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Stage
	for _, ev := range f.events {
		out = append(out, ev.Stage)
	}
	return out
}

func newFixture(t *testing.T, adjust func(*Config)) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }

	dir := t.TempDir()
	st, err := store.New(store.Config{
		Path:      filepath.Join(dir, "progress.json"),
		BackupDir: filepath.Join(dir, "backups"),
		Clock:     clock,
	}, logging.Nop())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	f := &fixture{
		llm:   llm.NewMockClient(),
		cal:   calendar.NewMockClient(),
		store: st,
	}
	cfg := Config{
		Store:       st,
		Extractor:   intent.New(f.llm, logging.Nop()),
		Planner:     planner.New(f.llm, nil, logging.Nop(), planner.WithClock(clock)),
		Recommender: prioritizer.New(logging.Nop()),
		Scheduler:   scheduler.New(f.cal, st, "[Genie] ", logging.Nop(), scheduler.WithClock(clock)),
		Calendar:    f.cal,
		Logger:      logging.Nop(),
		Listener:    f.record,
		Clock:       clock,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	f.pipe = New(cfg)
	return f
}

func (f *fixture) storedTasks(t *testing.T) []*task.Task {
	t.Helper()
	tasks, err := f.store.ListTasks(context.Background(), testUser)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	return tasks
}

// addLearnPython runs one add utterance using the mock's canned breakdown
// (two subtasks, "Outline the work" first).
func (f *fixture) addLearnPython(t *testing.T) *Outcome {
	t.Helper()
	f.llm.Enqueue("extract_task", `[{"action":"add","heading":"Learn Python","details":"from scratch"}]`)
	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "I want to learn Python")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	return outcome
}

func TestHandleUtteranceAddPlansAndSchedules(t *testing.T) {
	f := newFixture(t, nil)
	outcome := f.addLearnPython(t)

	if len(outcome.Applied) != 1 || !outcome.Applied[0].OK {
		t.Fatalf("applied = %+v", outcome.Applied)
	}
	if outcome.Applied[0].Kind != intent.KindAdd {
		t.Errorf("kind = %s, want add", outcome.Applied[0].Kind)
	}
	if !strings.Contains(outcome.Applied[0].Message, "2 steps") {
		t.Errorf("message = %q, want the planned step count", outcome.Applied[0].Message)
	}

	tasks := f.storedTasks(t)
	if len(tasks) != 1 || len(tasks[0].Subtasks) != 2 {
		t.Fatalf("stored tasks = %+v", tasks)
	}

	rec := outcome.Recommendation
	if rec.None() {
		t.Fatal("want a recommendation after the add")
	}
	if rec.SubtaskHeading != "Outline the work" {
		t.Errorf("recommended %q, want the first step", rec.SubtaskHeading)
	}
	if rec.Scheduled == nil || !rec.Scheduled.Start.Equal(testNow) {
		t.Errorf("scheduled window = %+v, want start at %v", rec.Scheduled, testNow)
	}
	if f.cal.Creates != 1 {
		t.Errorf("calendar creates = %d, want 1", f.cal.Creates)
	}
	evs := f.cal.Events()
	if len(evs) != 1 || evs[0].Summary != "[Genie] Outline the work" {
		t.Errorf("calendar events = %+v", evs)
	}
}

func TestHandleUtteranceMarkDoneCascadesAndFreesEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.addLearnPython(t)

	f.llm.Enqueue("extract_task", `[{"action":"mark_done","target_task":"Learn Python"}]`)
	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "done with learning python")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if len(outcome.Applied) != 1 || !outcome.Applied[0].OK {
		t.Fatalf("applied = %+v", outcome.Applied)
	}

	tasks := f.storedTasks(t)
	if tasks[0].Status != task.StatusDone {
		t.Errorf("task status = %s, want done", tasks[0].Status)
	}
	for i, st := range tasks[0].Subtasks {
		if st.Status != task.StatusDone {
			t.Errorf("subtask %d status = %s, want cascade to done", i, st.Status)
		}
	}
	if f.cal.Deletes != 1 || len(f.cal.Events()) != 0 {
		t.Errorf("deletes = %d, events = %+v, want the placed event removed", f.cal.Deletes, f.cal.Events())
	}
	if !outcome.Recommendation.None() {
		t.Errorf("recommendation = %+v, want none with no open work", outcome.Recommendation)
	}
	if outcome.Recommendation.Reasoning != prioritizer.NoFitReasoning {
		t.Errorf("reasoning = %q", outcome.Recommendation.Reasoning)
	}
}

func TestHandleUtteranceRescheduleReplacesEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.addLearnPython(t)

	f.llm.Enqueue("extract_task", `[{"action":"reschedule","target_task":"Learn Python","deadline":"2025-09-20"}]`)
	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "push learning python to saturday")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if !outcome.Applied[0].OK {
		t.Fatalf("applied = %+v", outcome.Applied)
	}

	// The old event is removed and the recommendation is re-placed: never
	// two events for the same step.
	if f.cal.Deletes != 1 {
		t.Errorf("deletes = %d, want the stale event removed", f.cal.Deletes)
	}
	summaries := 0
	for _, ev := range f.cal.Events() {
		if ev.Summary == "[Genie] Outline the work" {
			summaries++
		}
	}
	if summaries != 1 {
		t.Errorf("events for the step = %d, want exactly 1", summaries)
	}

	tasks := f.storedTasks(t)
	if tasks[0].Deadline == nil || !tasks[0].Deadline.Equal(time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("deadline = %v", tasks[0].Deadline)
	}
}

func TestHandleUtteranceGarbageExtractionFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.Enqueue("extract_task", "I cannot answer that in JSON, sorry.")

	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "file my taxes by friday")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if !outcome.Fallback {
		t.Error("outcome must be marked as fallback")
	}
	if len(outcome.Applied) != 1 || outcome.Applied[0].Kind != intent.KindAdd || !outcome.Applied[0].OK {
		t.Fatalf("applied = %+v, want the raw-utterance add", outcome.Applied)
	}

	tasks := f.storedTasks(t)
	if len(tasks) != 1 || tasks[0].Heading != "file my taxes by friday" {
		t.Errorf("stored tasks = %+v, user input must never be lost", tasks)
	}
}

func TestHandleUtteranceOfflineCalendarStillRecommends(t *testing.T) {
	f := newFixture(t, nil)
	f.cal.Offline = true

	outcome := f.addLearnPython(t)
	if outcome.Recommendation.None() {
		t.Fatal("an offline calendar must not block the recommendation")
	}
	if outcome.Recommendation.Scheduled != nil {
		t.Errorf("scheduled = %+v, want advisory-only while offline", outcome.Recommendation.Scheduled)
	}
	if f.cal.Creates != 0 {
		t.Errorf("creates = %d, no event can land while offline", f.cal.Creates)
	}
}

func TestHandleUtteranceAddSurvivesPlannerFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.Enqueue("extract_task", `[{"action":"add","heading":"Learn Python"}]`)
	f.llm.FailWith("breakdown_task", context.DeadlineExceeded)

	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "I want to learn Python")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if !outcome.Applied[0].OK {
		t.Fatalf("applied = %+v, planner failure must not abort the add", outcome.Applied)
	}
	if len(outcome.Applied[0].Warnings) == 0 {
		t.Error("want a warning about deferred planning")
	}

	tasks := f.storedTasks(t)
	if !tasks[0].NeedsPlanning || len(tasks[0].Subtasks) != 0 {
		t.Errorf("stored task = %+v, want needs_planning with no subtasks", tasks[0])
	}
}

func TestHandleUtteranceQueryDoesNotCommit(t *testing.T) {
	f := newFixture(t, nil)
	f.addLearnPython(t)

	before, err := f.store.Snapshot(context.Background(), testUser)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	f.llm.Enqueue("extract_task", `[{"action":"query_progress"}]`)
	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "how am I doing")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if !strings.Contains(outcome.Applied[0].Message, "open task") {
		t.Errorf("message = %q, want a progress summary", outcome.Applied[0].Message)
	}

	after, err := f.store.Snapshot(context.Background(), testUser)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if after.Session.Version != before.Session.Version {
		t.Errorf("version moved %d to %d on a read-only utterance", before.Session.Version, after.Session.Version)
	}
}

func TestHandleUtteranceEditReportsFieldChanges(t *testing.T) {
	f := newFixture(t, nil)
	f.addLearnPython(t)

	f.llm.Enqueue("extract_task", `[{"action":"edit","target_task":"Learn Python","heading":"Learn Python 3"}]`)
	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "rename it to learn python 3")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	msg := outcome.Applied[0].Message
	if !strings.Contains(msg, "Updated") || !strings.Contains(msg, `"Learn Python" to "Learn Python 3"`) {
		t.Errorf("message = %q, want the field change named", msg)
	}
}

func TestHandleUtteranceDeadlineReturnsPartialResult(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.OverallDeadline = time.Nanosecond
	})

	outcome, err := f.pipe.HandleUtterance(context.Background(), testUser, "I want to learn Python")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if !outcome.TimedOut {
		t.Fatal("outcome must carry the timeout flag")
	}
	if outcome.Recommendation != nil {
		t.Errorf("recommendation = %+v, want none after timeout", outcome.Recommendation)
	}
	for _, r := range outcome.Applied {
		if r.OK {
			t.Errorf("result = %+v, nothing should apply after expiry", r)
		}
	}
}

func TestHandleUtteranceEmptyUserIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.pipe.HandleUtterance(context.Background(), "", "hello"); err == nil {
		t.Fatal("want a validation error for an empty user id")
	}
}

func TestHandleUtteranceEmitsStageEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.addLearnPython(t)

	seen := map[Stage]bool{}
	for _, s := range f.stages() {
		seen[s] = true
	}
	for _, want := range []Stage{StageExtract, StageApply, StageCommit, StagePrioritize, StageSchedule} {
		if !seen[want] {
			t.Errorf("stage %s never emitted", want)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	actions := 0
	for _, ev := range f.events {
		if ev.Action != nil {
			actions++
		}
	}
	if actions != 1 {
		t.Errorf("per-action events = %d, want 1", actions)
	}
}

func TestConcurrentUtterancesForOneUserSerialize(t *testing.T) {
	f := newFixture(t, nil)

	// No scripted extraction: the mock derives one add per utterance from
	// the raw input.
	var wg sync.WaitGroup
	for _, utterance := range []string{"Water the garden", "Sweep the garage"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := f.pipe.HandleUtterance(context.Background(), testUser, u); err != nil {
				t.Errorf("HandleUtterance(%q) error = %v", u, err)
			}
		}(utterance)
	}
	wg.Wait()

	tasks := f.storedTasks(t)
	if len(tasks) != 2 {
		t.Fatalf("stored tasks = %d, want both utterances committed", len(tasks))
	}
	headings := map[string]bool{}
	for _, tk := range tasks {
		headings[tk.Heading] = true
	}
	if !headings["Water the garden"] || !headings["Sweep the garage"] {
		t.Errorf("headings = %v, a write was lost", headings)
	}
}

func TestRecordFeedbackFoldsEnergy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	fb := task.Feedback{Kind: task.FeedbackEnergy, Energy: 8, Timestamp: testNow}
	if err := f.pipe.RecordFeedback(ctx, testUser, fb); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}
	if err := f.pipe.RecordFeedback(ctx, testUser, task.Feedback{Kind: task.FeedbackEnergy, Energy: 6, Timestamp: testNow}); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}

	snap, err := f.store.Snapshot(ctx, testUser)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	pattern := snap.EnergyPatterns[9]
	if pattern.Samples != 2 || pattern.Score != 7 {
		t.Errorf("pattern at hour 9 = %+v, want mean 7 over 2 samples", pattern)
	}
	if len(snap.Feedback) != 2 {
		t.Errorf("feedback records = %d, want 2", len(snap.Feedback))
	}
}
