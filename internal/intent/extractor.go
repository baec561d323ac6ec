package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	"genie/internal/llm"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
)

// maxGraphTasks bounds how many tasks the prompt's task-graph view carries.
// Oldest tasks drop first; the LLM client additionally token-truncates.
const maxGraphTasks = 50

// Extractor turns utterances into actions via the extract_task prompt.
type Extractor struct {
	client llm.Client
	logger logging.Logger
}

// New builds an extractor over the given completion client.
func New(client llm.Client, logger logging.Logger) *Extractor {
	return &Extractor{client: client, logger: logging.OrNop(logger)}
}

// Result is one extraction outcome.
type Result struct {
	Actions  []Action
	Warnings []string

	// Fallback is set when the model output was unusable and the single
	// add action carries the raw utterance.
	Fallback bool
}

// Extract derives actions from the utterance against the user's current
// task graph. Auth failures and cancelled contexts propagate; every other
// failure degrades to the raw-utterance fallback.
func (e *Extractor) Extract(ctx context.Context, utterance string, snap *task.UserSnapshot, now time.Time) (*Result, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, genieerrors.New(genieerrors.KindValidation, "intent.Extract", "utterance must not be empty")
	}

	vars := map[string]string{
		"current_time_utc":    now.UTC().Format("2006-01-02T15:04:05"),
		"existing_tasks_json": GraphJSON(snap),
		"user_input":          utterance,
	}

	raw, err := e.client.Complete(ctx, "extract_task", vars)
	if err != nil {
		switch genieerrors.KindOf(err) {
		case genieerrors.KindFatalExternal:
			return nil, err
		case genieerrors.KindTimeout:
			if ctx.Err() != nil {
				return nil, err
			}
		}
		e.logger.Warn("Extraction call failed, falling back to raw add: %v", err)
		return fallbackResult(utterance), nil
	}

	actions, warnings, ok := e.parse(raw)
	if !ok {
		e.logger.Warn("Extraction output unparseable, falling back to raw add")
		return fallbackResult(utterance), nil
	}
	return &Result{Actions: actions, Warnings: warnings}, nil
}

// wireAction is the JSON shape the prompt instructs the model to emit.
type wireAction struct {
	Action       string           `json:"action"`
	Heading      string           `json:"heading"`
	Details      string           `json:"details"`
	Deadline     *string          `json:"deadline"`
	TimeEstimate int              `json:"time_estimate"`
	TargetTask   string           `json:"target_task"`
	Subtask      *wireSubtask     `json:"subtask"`
	Subtasks     []wireSubtask    `json:"subtasks"`
	Priority     jsonx.RawMessage `json:"priority"` // accepted, unused
}

type wireSubtask struct {
	Heading      string  `json:"heading"`
	Details      string  `json:"details"`
	Deadline     *string `json:"deadline"`
	TimeEstimate int     `json:"time_estimate"`
}

// parse decodes the sanitized model output into validated actions. ok is
// false only when the whole payload fails to decode.
func (e *Extractor) parse(raw string) (actions []Action, warnings []string, ok bool) {
	cleaned, err := llm.SanitizeJSON(raw)
	if err != nil {
		return nil, nil, false
	}

	var wire []wireAction
	if err := jsonx.Unmarshal([]byte(cleaned), &wire); err != nil {
		// A single object instead of an array still counts.
		var one wireAction
		if err := jsonx.Unmarshal([]byte(cleaned), &one); err != nil {
			return nil, nil, false
		}
		wire = []wireAction{one}
	}

	for i, w := range wire {
		action, warn := decodeAction(w)
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("action %d: %s", i+1, warn))
			e.logger.Warn("Dropping action %d (%s): %s", i+1, w.Action, warn)
		}
		if action != nil {
			actions = append(actions, action)
		}
	}
	return actions, warnings, true
}

// decodeAction validates one wire action into its variant. A non-empty
// warning with a nil action means the action was dropped.
func decodeAction(w wireAction) (Action, string) {
	switch Kind(strings.ToLower(strings.TrimSpace(w.Action))) {
	case KindAdd:
		if strings.TrimSpace(w.Heading) == "" {
			return nil, "add without heading"
		}
		add := Add{
			Heading:         strings.TrimSpace(w.Heading),
			Details:         strings.TrimSpace(w.Details),
			Deadline:        parseDeadline(w.Deadline),
			EstimateMinutes: w.TimeEstimate,
		}
		for _, ws := range w.Subtasks {
			if strings.TrimSpace(ws.Heading) == "" {
				continue
			}
			add.Subtasks = append(add.Subtasks, SubtaskSeed{
				Heading:         strings.TrimSpace(ws.Heading),
				Details:         strings.TrimSpace(ws.Details),
				Deadline:        parseDeadline(ws.Deadline),
				EstimateMinutes: ws.TimeEstimate,
			})
		}
		return add, ""

	case KindEdit:
		if w.TargetTask == "" {
			return nil, "edit without target_task"
		}
		patch := TaskPatch{}
		if h := strings.TrimSpace(w.Heading); h != "" {
			patch.Heading = &h
		}
		if d := strings.TrimSpace(w.Details); d != "" {
			patch.Details = &d
		}
		if dl := parseDeadline(w.Deadline); dl != nil {
			patch.Deadline = dl
		}
		if w.TimeEstimate > 0 {
			est := w.TimeEstimate
			patch.EstimateMinutes = &est
		}
		if patch.IsZero() {
			return nil, "edit with no fields to change"
		}
		return Edit{Target: w.TargetTask, Patch: patch}, ""

	case KindMarkDone:
		if w.TargetTask == "" {
			return nil, "mark_done without target_task"
		}
		return MarkDone{Target: w.TargetTask}, ""

	case KindReschedule:
		if w.TargetTask == "" {
			return nil, "reschedule without target_task"
		}
		deadline := parseDeadline(w.Deadline)
		if deadline == nil {
			return nil, "reschedule without a parseable deadline"
		}
		return Reschedule{Target: w.TargetTask, Deadline: *deadline}, ""

	case KindAddSubtask:
		if w.TargetTask == "" {
			return nil, "add_subtask without target_task"
		}
		if w.Subtask == nil || strings.TrimSpace(w.Subtask.Heading) == "" {
			return nil, "add_subtask without a subtask heading"
		}
		return AddSubtask{
			Target: w.TargetTask,
			Subtask: SubtaskSeed{
				Heading:         strings.TrimSpace(w.Subtask.Heading),
				Details:         strings.TrimSpace(w.Subtask.Details),
				Deadline:        parseDeadline(w.Subtask.Deadline),
				EstimateMinutes: w.Subtask.TimeEstimate,
			},
		}, ""

	case KindDelete:
		if w.TargetTask == "" {
			return nil, "delete without target_task"
		}
		return Delete{Target: w.TargetTask}, ""

	case KindQueryProgress:
		return QueryProgress{}, ""

	case KindQueryNext:
		return QueryNext{}, ""

	default:
		return nil, fmt.Sprintf("unknown action kind %q", w.Action)
	}
}

// parseDeadline accepts the prompt's ISO format with or without a zone.
// Unparseable deadlines are treated as absent.
func parseDeadline(s *string) *time.Time {
	if s == nil {
		return nil
	}
	text := strings.TrimSpace(*s)
	if text == "" || strings.EqualFold(text, "null") {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, text); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

func fallbackResult(utterance string) *Result {
	return &Result{
		Actions:  []Action{Add{Heading: utterance, Details: utterance}},
		Warnings: []string{"model output unusable; created a task from the raw message"},
		Fallback: true,
	}
}

// graphTask is the compact per-task view the extraction prompt sees.
type graphTask struct {
	ID       string         `json:"id"`
	Heading  string         `json:"heading"`
	Status   task.Status    `json:"status"`
	Deadline *time.Time     `json:"deadline,omitempty"`
	Subtasks []graphSubtask `json:"subtasks,omitempty"`
}

type graphSubtask struct {
	ID      string      `json:"id"`
	Heading string      `json:"heading"`
	Status  task.Status `json:"status"`
}

// GraphJSON renders the compact task-graph view for prompts: ids, headings,
// statuses, deadlines. Most recent tasks win when the graph is oversized.
func GraphJSON(snap *task.UserSnapshot) string {
	if snap == nil || len(snap.Tasks) == 0 {
		return "[]"
	}
	ordered := snap.OrderedTasks()
	if len(ordered) > maxGraphTasks {
		ordered = ordered[len(ordered)-maxGraphTasks:]
	}
	view := make([]graphTask, 0, len(ordered))
	for _, t := range ordered {
		gt := graphTask{
			ID:       t.ID,
			Heading:  t.Heading,
			Status:   t.Status,
			Deadline: t.Deadline,
		}
		for _, st := range t.Subtasks {
			gt.Subtasks = append(gt.Subtasks, graphSubtask{ID: st.ID, Heading: st.Heading, Status: st.Status})
		}
		view = append(view, gt)
	}
	data, err := jsonx.Marshal(view)
	if err != nil {
		return "[]"
	}
	return string(data)
}
