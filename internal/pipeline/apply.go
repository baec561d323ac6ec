package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"genie/internal/diffview"
	"genie/internal/domain/task"
	"genie/internal/intent"
	id "genie/internal/utils/id"
)

// apply runs one action against the draft snapshot. It returns the action
// result, calendar event ids freed by the action, and whether the draft was
// mutated.
func (p *Pipeline) apply(ctx context.Context, draft *task.UserSnapshot, action intent.Action, now time.Time) (ActionResult, []string, bool) {
	switch a := action.(type) {
	case intent.Add:
		return p.applyAdd(ctx, draft, a, now)
	case intent.Edit:
		return p.applyEdit(draft, a, now)
	case intent.MarkDone:
		return p.applyMarkDone(draft, a, now)
	case intent.Reschedule:
		return p.applyReschedule(draft, a, now)
	case intent.AddSubtask:
		return p.applyAddSubtask(draft, a, now)
	case intent.Delete:
		return p.applyDelete(draft, a)
	case intent.QueryProgress:
		return progressResult(draft), nil, false
	case intent.QueryNext:
		return ActionResult{OK: true, Kind: intent.KindQueryNext, Message: "Picking your next step"}, nil, false
	default:
		return ActionResult{Kind: action.Kind(), Message: "unsupported action"}, nil, false
	}
}

func (p *Pipeline) applyAdd(ctx context.Context, draft *task.UserSnapshot, a intent.Add, now time.Time) (ActionResult, []string, bool) {
	heading := strings.TrimSpace(a.Heading)
	if heading == "" {
		return ActionResult{Kind: intent.KindAdd, Message: "task heading must not be empty"}, nil, false
	}

	t := task.NewTask(id.NewTaskID(), heading, strings.TrimSpace(a.Details), now)
	t.EstimateMinutes = a.EstimateMinutes
	if a.Deadline != nil {
		d := a.Deadline.UTC()
		t.Deadline = &d
	}

	result := ActionResult{OK: true, Kind: intent.KindAdd, TaskID: t.ID}
	switch {
	case len(a.Subtasks) > 0:
		for _, seed := range a.Subtasks {
			if strings.TrimSpace(seed.Heading) == "" {
				continue
			}
			t.Subtasks = append(t.Subtasks,
				task.NewSubtask(id.NewSubtaskID(), strings.TrimSpace(seed.Heading), seed.Details, seed.EstimateMinutes, now))
		}
	case p.planner != nil:
		subtasks, err := p.planner.Plan(ctx, t, draft.Preferences)
		if err != nil {
			t.NeedsPlanning = true
			result.Warnings = append(result.Warnings, "could not break the task into steps, it will be planned later")
			p.logger.Warn("Planning %q failed: %v", t.Heading, err)
		} else {
			t.Subtasks = subtasks
		}
	default:
		t.NeedsPlanning = true
	}

	draft.Tasks[t.ID] = t
	result.Message = fmt.Sprintf("Added %q with %d steps", t.Heading, len(t.Subtasks))
	return result, nil, true
}

func (p *Pipeline) applyEdit(draft *task.UserSnapshot, a intent.Edit, now time.Time) (ActionResult, []string, bool) {
	t, warn := intent.Resolve(draft, a.Target)
	if t == nil {
		return ActionResult{Kind: intent.KindEdit, Message: warn}, nil, false
	}
	if a.Patch.IsZero() {
		return ActionResult{Kind: intent.KindEdit, TaskID: t.ID, Message: "the edit changes nothing"}, nil, false
	}

	var changes []diffview.FieldChange
	if a.Patch.Heading != nil {
		changes = append(changes, diffview.FieldChange{Field: "heading", Old: t.Heading, New: *a.Patch.Heading})
		t.Heading = *a.Patch.Heading
	}
	if a.Patch.Details != nil {
		changes = append(changes, diffview.FieldChange{Field: "details", Old: t.Details, New: *a.Patch.Details})
		t.Details = *a.Patch.Details
	}
	if a.Patch.Deadline != nil {
		d := a.Patch.Deadline.UTC()
		changes = append(changes, diffview.FieldChange{Field: "deadline", Old: formatDeadline(t.Deadline), New: formatDeadline(&d)})
		t.Deadline = &d
	}
	if a.Patch.EstimateMinutes != nil {
		changes = append(changes, diffview.FieldChange{
			Field: "estimate",
			Old:   strconv.Itoa(t.EstimateMinutes),
			New:   strconv.Itoa(*a.Patch.EstimateMinutes),
		})
		t.EstimateMinutes = *a.Patch.EstimateMinutes
	}
	t.Touch(now)

	summary := diffview.Describe(changes)
	if summary == "" {
		return ActionResult{Kind: intent.KindEdit, TaskID: t.ID, Message: "no effective changes"}, nil, false
	}
	return ActionResult{OK: true, Kind: intent.KindEdit, TaskID: t.ID,
		Message: fmt.Sprintf("Updated %q: %s", t.Heading, summary)}, nil, true
}

func (p *Pipeline) applyMarkDone(draft *task.UserSnapshot, a intent.MarkDone, now time.Time) (ActionResult, []string, bool) {
	t, warn := intent.Resolve(draft, a.Target)
	if t == nil {
		return ActionResult{Kind: intent.KindMarkDone, Message: warn}, nil, false
	}
	released := releaseEvents(t)
	t.MarkDone(now)
	return ActionResult{OK: true, Kind: intent.KindMarkDone, TaskID: t.ID,
		Message: fmt.Sprintf("Completed %q", t.Heading)}, released, true
}

func (p *Pipeline) applyReschedule(draft *task.UserSnapshot, a intent.Reschedule, now time.Time) (ActionResult, []string, bool) {
	t, warn := intent.Resolve(draft, a.Target)
	if t == nil {
		return ActionResult{Kind: intent.KindReschedule, Message: warn}, nil, false
	}
	d := a.Deadline.UTC()
	t.Deadline = &d
	released := releaseEvents(t)
	t.Touch(now)
	return ActionResult{OK: true, Kind: intent.KindReschedule, TaskID: t.ID,
		Message: fmt.Sprintf("Moved %q to %s", t.Heading, d.Format("2006-01-02 15:04"))}, released, true
}

func (p *Pipeline) applyAddSubtask(draft *task.UserSnapshot, a intent.AddSubtask, now time.Time) (ActionResult, []string, bool) {
	t, warn := intent.Resolve(draft, a.Target)
	if t == nil {
		return ActionResult{Kind: intent.KindAddSubtask, Message: warn}, nil, false
	}
	heading := strings.TrimSpace(a.Subtask.Heading)
	if heading == "" {
		return ActionResult{Kind: intent.KindAddSubtask, TaskID: t.ID, Message: "subtask heading must not be empty"}, nil, false
	}
	st := task.NewSubtask(id.NewSubtaskID(), heading, a.Subtask.Details, a.Subtask.EstimateMinutes, now)
	t.Subtasks = append(t.Subtasks, st)
	t.Touch(now)
	return ActionResult{OK: true, Kind: intent.KindAddSubtask, TaskID: t.ID,
		Message: fmt.Sprintf("Added step %q to %q", st.Heading, t.Heading)}, nil, true
}

func (p *Pipeline) applyDelete(draft *task.UserSnapshot, a intent.Delete) (ActionResult, []string, bool) {
	t, warn := intent.Resolve(draft, a.Target)
	if t == nil {
		return ActionResult{Kind: intent.KindDelete, Message: warn}, nil, false
	}
	released := releaseEvents(t)
	delete(draft.Tasks, t.ID)
	return ActionResult{OK: true, Kind: intent.KindDelete, TaskID: t.ID,
		Message: fmt.Sprintf("Deleted %q", t.Heading)}, released, true
}

func progressResult(draft *task.UserSnapshot) ActionResult {
	a := draft.Analytics()
	open := a.TasksByStatus[task.StatusPending] + a.TasksByStatus[task.StatusInProgress]
	return ActionResult{
		OK:   true,
		Kind: intent.KindQueryProgress,
		Message: fmt.Sprintf("%d open tasks, %d done (%.0f%% complete), %d steps pending",
			open, a.TasksByStatus[task.StatusDone], a.CompletionRate*100, a.SubtasksByStatus[task.StatusPending]),
	}
}

// releaseEvents clears every calendar handle on the task and returns the
// freed event ids.
func releaseEvents(t *task.Task) []string {
	var ids []string
	for _, st := range t.Subtasks {
		if st.Event != nil && st.Event.EventID != "" {
			ids = append(ids, st.Event.EventID)
			st.Event = nil
		}
	}
	return ids
}

func formatDeadline(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.UTC().Format("2006-01-02 15:04")
}
