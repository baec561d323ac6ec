// Package prioritizer picks the single next subtask the user should work
// on. The scoring is deterministic and rule-ordered: hard schedulability
// filter, deadline pressure, energy match, dependency order, then task age
// as the final tie-break. The winning rule is named in the recommendation's
// reasoning.
package prioritizer

import (
	"fmt"
	"sort"
	"time"

	"genie/internal/calendar"
	"genie/internal/domain/task"
	"genie/internal/shared/logging"
)

// MaxSubtasksPerTask caps how many pending subtasks per task compete.
const MaxSubtasksPerTask = 5

// NoFitReasoning is the reasoning on an empty recommendation.
const NoFitReasoning = "no fitting work in window"

// deadlinePressureWindow is how soon a parent deadline must fall to outrank
// everything else.
const deadlinePressureWindow = 24 * time.Hour

// Recommendation is the prioritizer's single-winner output. Empty ids mean
// no subtask fit the window.
type Recommendation struct {
	TaskID           string             `json:"task_id"`
	SubtaskID        string             `json:"subtask_id"`
	TaskHeading      string             `json:"task_heading,omitempty"`
	SubtaskHeading   string             `json:"subtask_heading,omitempty"`
	Reasoning        string             `json:"reasoning"`
	PsychologicalFit Fit                `json:"psychological_fit,omitempty"`
	Scheduled        *calendar.Interval `json:"scheduled,omitempty"`
}

// None reports whether the recommendation is empty.
func (r *Recommendation) None() bool {
	return r == nil || r.SubtaskID == ""
}

// Prioritizer scores pending subtasks against the user's day.
type Prioritizer struct {
	logger logging.Logger
}

// New builds a prioritizer.
func New(logger logging.Logger) *Prioritizer {
	return &Prioritizer{logger: logging.OrNop(logger)}
}

// candidate is one subtask in the running, with its rank inputs.
type candidate struct {
	task       *task.Task
	subtask    *task.Subtask
	index      int // sibling position within the parent
	urgent     bool
	deadline   time.Time
	energyRank int
	depth      WorkDepth
}

// Recommend picks the best pending subtask. availability covers the next
// 24 hours; now supplies both the urgency reference and the current hour
// for the energy rules.
func (p *Prioritizer) Recommend(snap *task.UserSnapshot, availability calendar.Availability, now time.Time) *Recommendation {
	largest := availability.LargestFree().Duration()
	inPeak := inPeakWindow(snap.Preferences, now.Hour())

	var candidates []candidate
	for _, t := range snap.OrderedTasks(task.StatusPending, task.StatusInProgress) {
		for index, st := range t.PendingSubtasks(MaxSubtasksPerTask) {
			estimate := st.EstimateMinutes
			if estimate <= 0 {
				estimate = task.MaxSchedulableMinutes
			}
			// Hard filter: the step must fit the largest free block.
			if time.Duration(estimate)*time.Minute > largest {
				continue
			}
			c := candidate{
				task:    t,
				subtask: st,
				index:   index,
				depth:   ClassifyDepth(st.Heading),
			}
			if t.Deadline != nil && t.Deadline.Sub(now) <= deadlinePressureWindow {
				c.urgent = true
				c.deadline = *t.Deadline
			}
			c.energyRank = energyRank(c.depth, inPeak)
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return &Recommendation{Reasoning: NoFitReasoning}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return rankLess(candidates[i], candidates[j])
	})

	winner := candidates[0]
	reasoning := p.reasoning(winner, candidates, inPeak)
	return &Recommendation{
		TaskID:           winner.task.ID,
		SubtaskID:        winner.subtask.ID,
		TaskHeading:      winner.task.Heading,
		SubtaskHeading:   winner.subtask.Heading,
		Reasoning:        reasoning,
		PsychologicalFit: fitFor(winner.depth, inPeak),
	}
}

// rankLess applies the ordering rules in sequence: deadline pressure,
// energy match, dependency order within a task, then task age.
func rankLess(a, b candidate) bool {
	if a.urgent != b.urgent {
		return a.urgent
	}
	if a.urgent && b.urgent && !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	if a.energyRank != b.energyRank {
		return a.energyRank < b.energyRank
	}
	if a.task.ID == b.task.ID {
		return a.index < b.index
	}
	if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
		return a.task.CreatedAt.Before(b.task.CreatedAt)
	}
	return a.task.ID < b.task.ID
}

// reasoning names the rule that separated the winner from the runner-up.
func (p *Prioritizer) reasoning(winner candidate, candidates []candidate, inPeak bool) string {
	if len(candidates) == 1 {
		return fmt.Sprintf("%q is the only step that fits your free time right now", winner.subtask.Heading)
	}
	runnerUp := candidates[1]

	switch {
	case winner.urgent && !runnerUp.urgent:
		return fmt.Sprintf("deadline pressure: %q is due within 24 hours", winner.task.Heading)
	case winner.urgent && runnerUp.urgent && winner.deadline.Before(runnerUp.deadline):
		return fmt.Sprintf("deadline pressure: %q has the earliest deadline", winner.task.Heading)
	case winner.energyRank != runnerUp.energyRank:
		if inPeak {
			return fmt.Sprintf("energy match: %q suits your peak-energy hours", winner.subtask.Heading)
		}
		return fmt.Sprintf("energy match: %q suits your current off-peak hours", winner.subtask.Heading)
	case winner.task.ID == runnerUp.task.ID:
		return fmt.Sprintf("dependency order: %q is the earliest prerequisite in %q", winner.subtask.Heading, winner.task.Heading)
	default:
		return fmt.Sprintf("%q comes from your oldest open task", winner.subtask.Heading)
	}
}
