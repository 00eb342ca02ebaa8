package audit

import (
	"context"
)

// Recorder is the interface components use to append audit entries.
// Implementations must be append-only.
type Recorder interface {
	// Record appends an audit event
	Record(ctx context.Context, event *Event) error
}

// NopRecorder discards every event. Used in tests and when auditing is
// intentionally disabled.
type NopRecorder struct{}

// Record implements Recorder
func (NopRecorder) Record(ctx context.Context, event *Event) error {
	return nil
}

// MemoryRecorder keeps events in memory for test assertions
type MemoryRecorder struct {
	Events []*Event
}

// Record implements Recorder
func (m *MemoryRecorder) Record(ctx context.Context, event *Event) error {
	m.Events = append(m.Events, event)
	return nil
}

// Last returns the most recently recorded event, or nil
func (m *MemoryRecorder) Last() *Event {
	if len(m.Events) == 0 {
		return nil
	}
	return m.Events[len(m.Events)-1]
}

// ByAction returns all recorded events with the given action tag
func (m *MemoryRecorder) ByAction(action Action) []*Event {
	var out []*Event
	for _, e := range m.Events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
