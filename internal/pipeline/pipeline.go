// Package pipeline orchestrates one user utterance end to end: extract
// intents, apply them to a draft snapshot, commit the draft atomically,
// then prioritize and schedule against the fresh state. Steps one through
// four run under a per-user lock; a weighted semaphore bounds utterances
// in flight across all users.
package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"genie/internal/calendar"
	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/intent"
	"genie/internal/prioritizer"
	"genie/internal/scheduler"
	"genie/internal/shared/logging"
	id "genie/internal/utils/id"
)

// recommendationWindow is how far ahead free/busy is fetched for the
// prioritizer.
const recommendationWindow = 24 * time.Hour

// IntentExtractor is the extraction port.
type IntentExtractor interface {
	Extract(ctx context.Context, utterance string, snap *task.UserSnapshot, now time.Time) (*intent.Result, error)
}

// TaskPlanner decomposes a new task into subtasks.
type TaskPlanner interface {
	Plan(ctx context.Context, t *task.Task, prefs task.Preferences) ([]*task.Subtask, error)
}

// Recommender picks the next subtask to work on.
type Recommender interface {
	Recommend(snap *task.UserSnapshot, availability calendar.Availability, now time.Time) *prioritizer.Recommendation
}

// EventScheduler places a recommendation on the calendar.
type EventScheduler interface {
	Schedule(ctx context.Context, userID string, rec *prioritizer.Recommendation) (*scheduler.Result, error)
}

// ActionResult reports the outcome of one applied action.
type ActionResult struct {
	OK       bool        `json:"ok"`
	Kind     intent.Kind `json:"kind"`
	Message  string      `json:"message"`
	TaskID   string      `json:"task_id,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`

	// TimedOut marks actions skipped because the utterance deadline
	// expired before they ran.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Outcome is the full result of one utterance.
type Outcome struct {
	UtteranceID    string                      `json:"utterance_id"`
	Applied        []ActionResult              `json:"applied"`
	Recommendation *prioritizer.Recommendation `json:"recommendation,omitempty"`
	Warnings       []string                    `json:"warnings,omitempty"`

	// Fallback is set when extraction degraded to the raw-utterance add.
	Fallback bool `json:"fallback,omitempty"`

	// TimedOut is set when the overall deadline cut processing short; the
	// recommendation is then omitted.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Config wires the pipeline's collaborators. Store, Extractor, Recommender,
// Scheduler, and Calendar are required; Planner may be nil, which leaves
// added tasks flagged for later planning.
type Config struct {
	Store       task.Store
	Extractor   IntentExtractor
	Planner     TaskPlanner
	Recommender Recommender
	Scheduler   EventScheduler
	Calendar    calendar.Client
	Logger      logging.Logger
	Listener    Listener

	OverallDeadline time.Duration
	MaxConcurrent   int

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Pipeline handles utterances for all users.
type Pipeline struct {
	store       task.Store
	extractor   IntentExtractor
	planner     TaskPlanner
	recommender Recommender
	scheduler   EventScheduler
	calendar    calendar.Client
	logger      logging.Logger
	listener    Listener

	overall time.Duration
	sem     *semaphore.Weighted
	locks   *userLocks
	clock   func() time.Time
}

// New builds a pipeline from its collaborators.
func New(cfg Config) *Pipeline {
	overall := cfg.OverallDeadline
	if overall <= 0 {
		overall = 60 * time.Second
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		store:       cfg.Store,
		extractor:   cfg.Extractor,
		planner:     cfg.Planner,
		recommender: cfg.Recommender,
		scheduler:   cfg.Scheduler,
		calendar:    cfg.Calendar,
		logger:      logging.OrNop(cfg.Logger),
		listener:    cfg.Listener,
		overall:     overall,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		locks:       newUserLocks(),
		clock:       clock,
	}
}

// HandleUtterance runs one utterance through extraction, application,
// commit, prioritization, and scheduling. Per-action failures are reported
// in the results; only fatal provider errors, store conflicts, and empty
// input fail the whole call.
func (p *Pipeline) HandleUtterance(ctx context.Context, userID, utterance string) (*Outcome, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, genieerrors.New(genieerrors.KindValidation, "pipeline.HandleUtterance", "user id must not be empty")
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTimeout, "pipeline.HandleUtterance", err, "waiting for capacity")
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.overall)
	defer cancel()

	outcome := &Outcome{UtteranceID: id.NewUtteranceID()}
	now := p.clock().UTC()

	lock := p.locks.get(userID)
	lock.Lock()
	locked := true
	unlock := func() {
		if locked {
			locked = false
			lock.Unlock()
		}
	}
	defer unlock()

	snap, err := p.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageExtract})
	extraction, err := p.extractor.Extract(ctx, utterance, snap, now)
	if err != nil {
		p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageExtract, Done: true, Error: err.Error()})
		return nil, err
	}
	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageExtract, Done: true})
	outcome.Fallback = extraction.Fallback
	outcome.Warnings = extraction.Warnings

	draft := snap.Clone()
	var released []string
	mutated := false

	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageApply})
	for _, action := range extraction.Actions {
		if ctx.Err() != nil {
			outcome.TimedOut = true
			outcome.Applied = append(outcome.Applied, ActionResult{
				Kind:     action.Kind(),
				Message:  "not applied: utterance deadline exceeded",
				TimedOut: true,
			})
			continue
		}
		result, orphaned, wrote := p.apply(ctx, draft, action, now)
		released = append(released, orphaned...)
		mutated = mutated || wrote
		outcome.Applied = append(outcome.Applied, result)
		p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageApply, Action: &result})
	}
	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageApply, Done: true})

	if mutated {
		p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageCommit})
		if err := p.store.PutSnapshot(ctx, userID, draft); err != nil {
			p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageCommit, Done: true, Error: err.Error()})
			return nil, err
		}
		p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageCommit, Done: true})
	}
	unlock()

	// Events whose subtasks were completed, rescheduled, or deleted are
	// removed best-effort; the scheduler reconciles any leftovers.
	for _, eventID := range released {
		if err := p.calendar.DeleteEvent(ctx, eventID); err != nil {
			p.logger.Warn("Could not remove calendar event %s: %v", eventID, err)
		}
	}

	if outcome.TimedOut || ctx.Err() != nil {
		outcome.TimedOut = true
		return outcome, nil
	}

	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StagePrioritize})
	rec := p.recommendFor(ctx, draft, now)
	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StagePrioritize, Done: true})

	p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageSchedule})
	if _, err := p.scheduler.Schedule(ctx, userID, rec); err != nil {
		p.logger.Warn("Scheduling for %s failed: %v", userID, err)
		p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageSchedule, Done: true, Error: err.Error()})
	} else {
		p.emit(Event{UserID: userID, UtteranceID: outcome.UtteranceID, Stage: StageSchedule, Done: true})
	}

	outcome.Recommendation = rec
	return outcome, nil
}

// Recommend produces a fresh recommendation outside any utterance, placing
// it on the calendar when possible.
func (p *Pipeline) Recommend(ctx context.Context, userID string) (*prioritizer.Recommendation, error) {
	snap, err := p.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := p.clock().UTC()
	rec := p.recommendFor(ctx, snap, now)
	if _, err := p.scheduler.Schedule(ctx, userID, rec); err != nil {
		p.logger.Warn("Scheduling for %s failed: %v", userID, err)
	}
	return rec, nil
}

// RecordFeedback appends a feedback record. Energy feedback folds into the
// per-hour pattern inside the store write.
func (p *Pipeline) RecordFeedback(ctx context.Context, userID string, fb task.Feedback) error {
	if strings.TrimSpace(userID) == "" {
		return genieerrors.New(genieerrors.KindValidation, "pipeline.RecordFeedback", "user id must not be empty")
	}
	lock := p.locks.get(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.store.GetOrCreateUser(ctx, userID); err != nil {
		return err
	}
	return p.store.AddFeedback(ctx, userID, fb)
}

func (p *Pipeline) recommendFor(ctx context.Context, snap *task.UserSnapshot, now time.Time) *prioritizer.Recommendation {
	window := calendar.Interval{Start: now, End: now.Add(recommendationWindow)}
	availability := p.calendar.FreeBusy(ctx, window)
	return p.recommender.Recommend(snap, availability, now)
}
