// Package planner decomposes a freshly created task into 2-5 short,
// ordered subtasks via the breakdown_task prompt, then attaches at most one
// research resource per subtask. Invalid model output earns one retry with
// a clarifying note; a second invalid answer degrades to a single
// whole-task subtask so the add never blocks on planning quality.
package planner

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"genie/internal/async"
	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/llm"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
	id "genie/internal/utils/id"
)

const (
	// MinSubtasks and MaxSubtasks bound a valid breakdown.
	MinSubtasks = 2
	MaxSubtasks = 5

	// MinEstimateMinutes and MaxEstimateMinutes bound one focused session.
	// Estimates outside the range are clamped, not rejected.
	MinEstimateMinutes = 15
	MaxEstimateMinutes = 30

	// FallbackEstimateMinutes sizes the whole-task fallback subtask.
	FallbackEstimateMinutes = 30

	// researchFanout bounds concurrent resource lookups.
	researchFanout = 3
)

const retryNote = "\n\nYour previous answer did not match the required JSON shape. " +
	"Reply again with ONLY the JSON object described above, with 2 to 5 subtasks."

// ResearchClient is the resource lookup port. Lookups never fail; an
// unavailable provider returns no resources.
type ResearchClient interface {
	FindResources(ctx context.Context, query string, maxResults int) []task.Resource
}

// Planner breaks tasks into schedulable subtasks.
type Planner struct {
	client          llm.Client
	research        ResearchClient
	researchTimeout time.Duration
	logger          logging.Logger
	clock           func() time.Time
}

// Option adjusts planner construction.
type Option func(*Planner)

// WithResearchTimeout bounds each per-subtask resource lookup.
func WithResearchTimeout(timeout time.Duration) Option {
	return func(p *Planner) {
		if timeout > 0 {
			p.researchTimeout = timeout
		}
	}
}

// WithClock overrides time.Now in tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Planner) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// New builds a planner. research may be nil; subtasks then carry whatever
// resources the model proposed.
func New(client llm.Client, research ResearchClient, logger logging.Logger, opts ...Option) *Planner {
	p := &Planner{
		client:          client,
		research:        research,
		researchTimeout: 10 * time.Second,
		logger:          logging.OrNop(logger),
		clock:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan produces ordered subtasks for the task. Call errors (auth, exhausted
// retries, cancellation) propagate so the pipeline can flag the task for
// later planning; structurally invalid output degrades to the single
// whole-task fallback after one retry.
func (p *Planner) Plan(ctx context.Context, t *task.Task, prefs task.Preferences) ([]*task.Subtask, error) {
	if t == nil || strings.TrimSpace(t.Heading) == "" {
		return nil, genieerrors.New(genieerrors.KindValidation, "planner.Plan", "task must have a heading")
	}

	vars, err := p.promptVars(t, prefs)
	if err != nil {
		return nil, err
	}

	subtasks, err := p.breakdown(ctx, vars, "")
	if err != nil {
		if !genieerrors.Is(err, genieerrors.KindInvalidLLMOutput) {
			return nil, err
		}
		p.logger.Warn("Breakdown of %q invalid, retrying with clarification: %v", t.Heading, err)
		subtasks, err = p.breakdown(ctx, vars, retryNote)
		if err != nil {
			if !genieerrors.Is(err, genieerrors.KindInvalidLLMOutput) {
				return nil, err
			}
			p.logger.Warn("Breakdown of %q invalid twice, using whole-task fallback", t.Heading)
			return p.fallback(t), nil
		}
	}

	p.attachResources(ctx, subtasks)
	return subtasks, nil
}

func (p *Planner) promptVars(t *task.Task, prefs task.Preferences) (map[string]string, error) {
	taskJSON, err := jsonx.Marshal(map[string]any{
		"heading":  t.Heading,
		"details":  t.Details,
		"deadline": t.Deadline,
	})
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindValidation, "planner.Plan", err, "marshal task")
	}
	prefsJSON, err := jsonx.Marshal(prefs)
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindValidation, "planner.Plan", err, "marshal preferences")
	}
	return map[string]string{
		"current_time_utc": p.clock().UTC().Format("2006-01-02T15:04:05"),
		"task_json":        string(taskJSON),
		"preferences_json": string(prefsJSON),
	}, nil
}

// wireBreakdown is the JSON shape the breakdown prompt requests.
type wireBreakdown struct {
	Subtasks []struct {
		Heading      string `json:"heading"`
		Details      string `json:"details"`
		TimeEstimate int    `json:"time_estimate"`
		Resource     *struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Type  string `json:"type"`
			Focus string `json:"focus"`
		} `json:"resource"`
	} `json:"subtasks"`
}

// breakdown performs one LLM call and validates the structure.
func (p *Planner) breakdown(ctx context.Context, vars map[string]string, note string) ([]*task.Subtask, error) {
	callVars := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		callVars[k] = v
	}
	callVars["retry_note"] = note

	raw, err := p.client.Complete(ctx, "breakdown_task", callVars)
	if err != nil {
		return nil, err
	}
	cleaned, err := llm.SanitizeJSON(raw)
	if err != nil {
		return nil, err
	}

	var wire wireBreakdown
	if err := jsonx.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindInvalidLLMOutput, "planner.breakdown", err, "decode breakdown")
	}
	if n := len(wire.Subtasks); n < MinSubtasks || n > MaxSubtasks {
		return nil, genieerrors.New(genieerrors.KindInvalidLLMOutput, "planner.breakdown",
			"breakdown produced %d subtasks, want %d-%d", n, MinSubtasks, MaxSubtasks)
	}

	now := p.clock()
	subtasks := make([]*task.Subtask, 0, len(wire.Subtasks))
	for i, ws := range wire.Subtasks {
		heading := strings.TrimSpace(ws.Heading)
		if heading == "" {
			return nil, genieerrors.New(genieerrors.KindInvalidLLMOutput, "planner.breakdown",
				"subtask %d has no heading", i+1)
		}
		st := task.NewSubtask(id.NewSubtaskID(), heading, strings.TrimSpace(ws.Details), clampEstimate(ws.TimeEstimate), now)
		if ws.Resource != nil && ws.Resource.URL != "" {
			st.Resource = &task.Resource{
				Title: ws.Resource.Title,
				URL:   ws.Resource.URL,
				Kind:  task.NormalizeResourceKind(ws.Resource.Type),
				Focus: ws.Resource.Focus,
			}
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, nil
}

// attachResources fans out one bounded research lookup per subtask heading
// and keeps at most one resource each. A model-proposed resource survives
// only when research finds nothing.
func (p *Planner) attachResources(ctx context.Context, subtasks []*task.Subtask) {
	if p.research == nil {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(researchFanout)
	for _, st := range subtasks {
		st := st
		group.Go(func() error {
			defer async.Recover(p.logger, "research-lookup")
			lookupCtx, cancel := context.WithTimeout(groupCtx, p.researchTimeout)
			defer cancel()
			if found := p.research.FindResources(lookupCtx, st.Heading, 1); len(found) > 0 {
				resource := found[0]
				st.Resource = &resource
			}
			return nil
		})
	}
	// Lookups never return errors; Wait only synchronizes the fan-out.
	_ = group.Wait()
}

// fallback is the degraded plan: the task itself as one 30-minute subtask.
func (p *Planner) fallback(t *task.Task) []*task.Subtask {
	now := p.clock()
	st := task.NewSubtask(id.NewSubtaskID(), t.Heading, t.Details, FallbackEstimateMinutes, now)
	return []*task.Subtask{st}
}

func clampEstimate(minutes int) int {
	switch {
	case minutes < MinEstimateMinutes:
		return MinEstimateMinutes
	case minutes > MaxEstimateMinutes:
		return MaxEstimateMinutes
	default:
		return minutes
	}
}
