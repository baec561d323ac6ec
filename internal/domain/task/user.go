package task

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PeakWindow names the part of the day a user reports peak energy.
type PeakWindow string

const (
	PeakMorning   PeakWindow = "morning"
	PeakAfternoon PeakWindow = "afternoon"
	PeakEvening   PeakWindow = "evening"
)

// Contains reports whether the given hour of day falls inside the window.
// Bands are half-open: morning [06,12), afternoon [12,17), evening [17,22).
func (w PeakWindow) Contains(hour int) bool {
	switch w {
	case PeakMorning:
		return hour >= 6 && hour < 12
	case PeakAfternoon:
		return hour >= 12 && hour < 17
	case PeakEvening:
		return hour >= 17 && hour < 22
	default:
		return false
	}
}

// Preferences holds a user's working rhythm.
type Preferences struct {
	WorkStart        string     `json:"work_start"` // "HH:MM"
	WorkEnd          string     `json:"work_end"`   // "HH:MM"
	PeakEnergy       PeakWindow `json:"peak_energy"`
	PreferredMinutes int        `json:"preferred_session_minutes"`
	MaxMinutes       int        `json:"max_session_minutes"`
}

// DefaultPreferences returns the preferences seeded for new users.
func DefaultPreferences() Preferences {
	return Preferences{
		WorkStart:        "09:00",
		WorkEnd:          "17:00",
		PeakEnergy:       PeakMorning,
		PreferredMinutes: 45,
		MaxMinutes:       90,
	}
}

// Validate checks clock formats and session bounds.
func (p Preferences) Validate() error {
	if _, _, err := ParseClock(p.WorkStart); err != nil {
		return fmt.Errorf("work_start: %w", err)
	}
	if _, _, err := ParseClock(p.WorkEnd); err != nil {
		return fmt.Errorf("work_end: %w", err)
	}
	switch p.PeakEnergy {
	case PeakMorning, PeakAfternoon, PeakEvening:
	default:
		return fmt.Errorf("peak_energy: unknown window %q", p.PeakEnergy)
	}
	if p.PreferredMinutes <= 0 {
		return fmt.Errorf("preferred_session_minutes must be positive, got %d", p.PreferredMinutes)
	}
	if p.MaxMinutes < p.PreferredMinutes {
		return fmt.Errorf("max_session_minutes %d is below preferred %d", p.MaxMinutes, p.PreferredMinutes)
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("clock %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q has invalid minute", s)
	}
	return hour, minute, nil
}

// FeedbackKind tags a feedback record.
type FeedbackKind string

const (
	FeedbackTaskCompletion FeedbackKind = "task_completion"
	FeedbackScheduling     FeedbackKind = "scheduling"
	FeedbackDifficulty     FeedbackKind = "difficulty"
	FeedbackEnergy         FeedbackKind = "energy"
)

// ParseFeedbackKind maps free-form text to a FeedbackKind.
func ParseFeedbackKind(s string) (FeedbackKind, bool) {
	switch FeedbackKind(strings.ToLower(strings.TrimSpace(s))) {
	case FeedbackTaskCompletion:
		return FeedbackTaskCompletion, true
	case FeedbackScheduling:
		return FeedbackScheduling, true
	case FeedbackDifficulty:
		return FeedbackDifficulty, true
	case FeedbackEnergy:
		return FeedbackEnergy, true
	}
	return "", false
}

// Feedback is one observation the user reported after working.
type Feedback struct {
	Kind          FeedbackKind `json:"kind"`
	TaskID        string       `json:"task_id,omitempty"`
	SubtaskID     string       `json:"subtask_id,omitempty"`
	ActualMinutes int          `json:"actual_minutes,omitempty"`
	Difficulty    int          `json:"difficulty,omitempty"` // 1-10
	Energy        int          `json:"energy,omitempty"`     // 1-10
	Timestamp     time.Time    `json:"timestamp"`
}

// Validate checks rating ranges and the kind tag.
func (f Feedback) Validate() error {
	if _, ok := ParseFeedbackKind(string(f.Kind)); !ok {
		return fmt.Errorf("unknown feedback kind %q", f.Kind)
	}
	if f.Difficulty != 0 && (f.Difficulty < 1 || f.Difficulty > 10) {
		return fmt.Errorf("difficulty %d outside 1-10", f.Difficulty)
	}
	if f.Energy != 0 && (f.Energy < 1 || f.Energy > 10) {
		return fmt.Errorf("energy %d outside 1-10", f.Energy)
	}
	if f.ActualMinutes < 0 {
		return fmt.Errorf("actual_minutes %d is negative", f.ActualMinutes)
	}
	return nil
}

// EnergyPattern is the moving-average energy score for one hour of day.
type EnergyPattern struct {
	Score   float64 `json:"score"` // 1-10
	Samples int     `json:"samples"`
}

// FoldEnergy folds one energy observation into the per-hour patterns.
func FoldEnergy(patterns map[int]EnergyPattern, hour, energy int) {
	p := patterns[hour]
	p.Score = (p.Score*float64(p.Samples) + float64(energy)) / float64(p.Samples+1)
	p.Samples++
	patterns[hour] = p
}

// SessionMeta tracks the lifetime of one user's stored session.
type SessionMeta struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Version     int       `json:"version"`
}

// UserSnapshot is one user's complete stored state. The pipeline mutates
// a deep copy and commits it back in a single store write.
type UserSnapshot struct {
	Session        SessionMeta           `json:"session"`
	Preferences    Preferences           `json:"preferences"`
	Tasks          map[string]*Task      `json:"tasks"`
	Feedback       []Feedback            `json:"feedback"`
	EnergyPatterns map[int]EnergyPattern `json:"energy_patterns"`
}

// NewUserSnapshot seeds an empty snapshot with default preferences.
func NewUserSnapshot(now time.Time) *UserSnapshot {
	return &UserSnapshot{
		Session: SessionMeta{
			CreatedAt:   now.UTC(),
			LastUpdated: now.UTC(),
			Version:     1,
		},
		Preferences:    DefaultPreferences(),
		Tasks:          map[string]*Task{},
		Feedback:       []Feedback{},
		EnergyPatterns: map[int]EnergyPattern{},
	}
}

// Clone returns a deep copy safe to mutate without affecting the original.
func (s *UserSnapshot) Clone() *UserSnapshot {
	if s == nil {
		return nil
	}
	out := &UserSnapshot{
		Session:        s.Session,
		Preferences:    s.Preferences,
		Tasks:          make(map[string]*Task, len(s.Tasks)),
		Feedback:       make([]Feedback, len(s.Feedback)),
		EnergyPatterns: make(map[int]EnergyPattern, len(s.EnergyPatterns)),
	}
	for id, t := range s.Tasks {
		out.Tasks[id] = t.Clone()
	}
	copy(out.Feedback, s.Feedback)
	for hour, p := range s.EnergyPatterns {
		out.EnergyPatterns[hour] = p
	}
	return out
}

// OrderedTasks returns tasks sorted by creation time, id as tie-break,
// optionally filtered to the given statuses.
func (s *UserSnapshot) OrderedTasks(statuses ...Status) []*Task {
	out := make([]*Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		if len(statuses) > 0 {
			keep := false
			for _, st := range statuses {
				if t.Status == st {
					keep = true
					break
				}
			}
			if !keep {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LastCreated returns the most recently created task, or nil.
func (s *UserSnapshot) LastCreated() *Task {
	var last *Task
	for _, t := range s.Tasks {
		if last == nil || t.CreatedAt.After(last.CreatedAt) ||
			(t.CreatedAt.Equal(last.CreatedAt) && t.ID > last.ID) {
			last = t
		}
	}
	return last
}

// FindByHeading returns the task whose heading matches exactly,
// case-insensitive, or nil.
func (s *UserSnapshot) FindByHeading(heading string) *Task {
	for _, t := range s.OrderedTasks() {
		if strings.EqualFold(t.Heading, heading) {
			return t
		}
	}
	return nil
}

// FindBySubstring returns the single task whose heading contains the text,
// case-insensitive. When zero or several match it returns nil and the count.
func (s *UserSnapshot) FindBySubstring(text string) (*Task, int) {
	needle := strings.ToLower(text)
	var found *Task
	count := 0
	for _, t := range s.OrderedTasks() {
		if strings.Contains(strings.ToLower(t.Heading), needle) {
			found = t
			count++
		}
	}
	if count != 1 {
		return nil, count
	}
	return found, 1
}

// Analytics is derived reporting over one user's stored state.
type Analytics struct {
	TasksByStatus    map[Status]int  `json:"tasks_by_status"`
	SubtasksByStatus map[Status]int  `json:"subtasks_by_status"`
	CompletionRate   float64         `json:"completion_rate"`
	EstimateAccuracy float64         `json:"estimate_accuracy"` // mean actual/estimate ratio
	EnergyByHour     map[int]float64 `json:"energy_by_hour"`
	FeedbackCount    int             `json:"feedback_count"`
}

// Analytics computes reporting figures from the snapshot.
func (s *UserSnapshot) Analytics() *Analytics {
	a := &Analytics{
		TasksByStatus:    map[Status]int{},
		SubtasksByStatus: map[Status]int{},
		EnergyByHour:     map[int]float64{},
		FeedbackCount:    len(s.Feedback),
	}

	total := 0
	for _, t := range s.Tasks {
		a.TasksByStatus[t.Status]++
		total++
		for _, st := range t.Subtasks {
			a.SubtasksByStatus[st.Status]++
		}
	}
	if total > 0 {
		a.CompletionRate = float64(a.TasksByStatus[StatusDone]) / float64(total)
	}

	// Mean actual/estimate across completion feedback that has both sides
	ratioSum, ratioCount := 0.0, 0
	for _, fb := range s.Feedback {
		if fb.Kind != FeedbackTaskCompletion || fb.ActualMinutes <= 0 {
			continue
		}
		estimate := s.estimateFor(fb)
		if estimate <= 0 {
			continue
		}
		ratioSum += float64(fb.ActualMinutes) / float64(estimate)
		ratioCount++
	}
	if ratioCount > 0 {
		a.EstimateAccuracy = ratioSum / float64(ratioCount)
	}

	for hour, p := range s.EnergyPatterns {
		a.EnergyByHour[hour] = p.Score
	}
	return a
}

func (s *UserSnapshot) estimateFor(fb Feedback) int {
	t, ok := s.Tasks[fb.TaskID]
	if !ok {
		return 0
	}
	if fb.SubtaskID != "" {
		if st := t.FindSubtask(fb.SubtaskID); st != nil {
			return st.EstimateMinutes
		}
		return 0
	}
	return t.EstimateMinutes
}
