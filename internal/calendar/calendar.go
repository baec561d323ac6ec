// Package calendar talks to the user's external calendar: free/busy
// lookups and event writes. Lookups never fail upward; a provider that is
// unreachable or unauthenticated degrades to "assume free" with
// Connected=false so the pipeline keeps recommending. Write operations
// propagate their errors.
package calendar

import (
	"context"
	"sort"
	"time"
)

// Interval is a half-open [Start, End) time window in UTC.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// IsZero reports whether the interval is unset.
func (i Interval) IsZero() bool {
	return i.Start.IsZero() && i.End.IsZero()
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Availability is the result of one free/busy lookup.
type Availability struct {
	Free      []Interval `json:"free"`
	Busy      []Interval `json:"busy"`
	Connected bool       `json:"connected"`
}

// LargestFree returns the longest free interval, or a zero interval when
// there is none.
func (a Availability) LargestFree() Interval {
	var largest Interval
	for _, f := range a.Free {
		if f.Duration() > largest.Duration() {
			largest = f
		}
	}
	return largest
}

// EarliestFreeFitting returns the earliest free interval of at least the
// given length, trimmed to that length, and whether one exists.
func (a Availability) EarliestFreeFitting(need time.Duration) (Interval, bool) {
	for _, f := range a.Free {
		if f.Duration() >= need {
			return Interval{Start: f.Start, End: f.Start.Add(need)}, true
		}
	}
	return Interval{}, false
}

// AssumeFree is the degraded availability for an unreachable provider: the
// whole requested window free, Connected=false.
func AssumeFree(window Interval) Availability {
	return Availability{
		Free:      []Interval{window},
		Busy:      nil,
		Connected: false,
	}
}

// SubtractBusy computes the free intervals of a window given its busy
// intervals. Busy intervals may overlap and extend past the window.
func SubtractBusy(window Interval, busy []Interval) []Interval {
	merged := mergeIntervals(busy)
	free := []Interval{}
	cursor := window.Start
	for _, b := range merged {
		if !b.Overlaps(window) {
			continue
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

func mergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// EventInput carries the fields for a new calendar event.
type EventInput struct {
	Summary      string
	Description  string
	Start        time.Time
	End          time.Time
	ResourceLink string
}

// EventPatch updates selected fields of an existing event. Nil fields are
// left unchanged.
type EventPatch struct {
	Summary     *string
	Description *string
	Start       *time.Time
	End         *time.Time
}

// Event is one provider-side calendar event.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Client is the calendar port the scheduler and prioritizer depend on.
// Implementations must be safe for concurrent use.
type Client interface {
	// FreeBusy reports availability inside the window. It never returns an
	// error: failures degrade to AssumeFree(window).
	FreeBusy(ctx context.Context, window Interval, calendars ...string) Availability

	// CreateEvent inserts an event and returns the provider's event id.
	CreateEvent(ctx context.Context, input EventInput) (string, error)

	// UpdateEvent applies a partial update to an event.
	UpdateEvent(ctx context.Context, eventID string, patch EventPatch) error

	// DeleteEvent removes an event. Deleting an already-gone event is not
	// an error.
	DeleteEvent(ctx context.Context, eventID string) error

	// ListEvents returns events overlapping the window.
	ListEvents(ctx context.Context, window Interval) ([]Event, error)
}
