package calendar

import (
	"context"
	"fmt"
	"sync"

	genieerrors "genie/internal/errors"
)

// MockClient is an in-memory calendar for tests and credential-less runs.
// It serves free/busy from its own event list plus scripted busy blocks.
type MockClient struct {
	mu sync.Mutex

	// Offline makes FreeBusy degrade and writes fail, imitating a
	// disconnected provider.
	Offline bool

	// BusyBlocks are returned busy regardless of stored events.
	BusyBlocks []Interval

	// WriteErr, when set, is returned from every write operation.
	WriteErr error

	events  map[string]Event
	nextID  int
	Creates int
	Updates int
	Deletes int
}

// NewMockClient returns an empty mock calendar.
func NewMockClient() *MockClient {
	return &MockClient{events: map[string]Event{}}
}

func (m *MockClient) FreeBusy(ctx context.Context, window Interval, calendars ...string) Availability {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Offline {
		return AssumeFree(window)
	}
	busy := make([]Interval, 0, len(m.BusyBlocks)+len(m.events))
	busy = append(busy, m.BusyBlocks...)
	for _, ev := range m.events {
		busy = append(busy, Interval{Start: ev.Start, End: ev.End})
	}
	return Availability{
		Free:      SubtractBusy(window, busy),
		Busy:      mergeIntervals(busy),
		Connected: true,
	}
}

func (m *MockClient) CreateEvent(ctx context.Context, input EventInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeGate("calendar.CreateEvent"); err != nil {
		return "", err
	}
	m.nextID++
	m.Creates++
	id := fmt.Sprintf("evt-%d", m.nextID)
	description := input.Description
	if input.ResourceLink != "" {
		description = fmt.Sprintf("%s\n\nResource: %s", description, input.ResourceLink)
	}
	m.events[id] = Event{
		ID:          id,
		Summary:     input.Summary,
		Description: description,
		Start:       input.Start.UTC(),
		End:         input.End.UTC(),
	}
	return id, nil
}

func (m *MockClient) UpdateEvent(ctx context.Context, eventID string, patch EventPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeGate("calendar.UpdateEvent"); err != nil {
		return err
	}
	ev, ok := m.events[eventID]
	if !ok {
		return genieerrors.New(genieerrors.KindNotFound, "calendar.UpdateEvent", "unknown event %s", eventID)
	}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Start != nil {
		ev.Start = patch.Start.UTC()
	}
	if patch.End != nil {
		ev.End = patch.End.UTC()
	}
	m.events[eventID] = ev
	m.Updates++
	return nil
}

func (m *MockClient) DeleteEvent(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeGate("calendar.DeleteEvent"); err != nil {
		return err
	}
	delete(m.events, eventID)
	m.Deletes++
	return nil
}

func (m *MockClient) ListEvents(ctx context.Context, window Interval) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Offline {
		return nil, genieerrors.New(genieerrors.KindTransientExternal, "calendar.ListEvents", "provider offline")
	}
	var out []Event
	for _, ev := range m.events {
		if (Interval{Start: ev.Start, End: ev.End}).Overlaps(window) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Events returns a copy of the stored events for assertions.
func (m *MockClient) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out
}

// Event returns one stored event by id.
func (m *MockClient) Event(id string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	return ev, ok
}

// SeedEvent installs an event directly, bypassing counters. Tests use it
// to fabricate orphaned events.
func (m *MockClient) SeedEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		m.nextID++
		ev.ID = fmt.Sprintf("evt-%d", m.nextID)
	}
	ev.Start = ev.Start.UTC()
	ev.End = ev.End.UTC()
	m.events[ev.ID] = ev
}

func (m *MockClient) writeGate(op string) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if m.Offline {
		return genieerrors.New(genieerrors.KindTransientExternal, op, "provider offline")
	}
	return nil
}

var _ Client = (*MockClient)(nil)
