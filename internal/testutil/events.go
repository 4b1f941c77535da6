package testutil

import (
	"sync"

	"outbound-pool/internal/events"
)

// EventRecorder is an events.Sink that keeps everything it receives
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// Emit implements events.Sink
func (r *EventRecorder) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// OfType returns recorded events of typ in emission order
func (r *EventRecorder) OfType(typ events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of typ were recorded
func (r *EventRecorder) Count(typ events.Type) int {
	return len(r.OfType(typ))
}

// Types returns the type of every recorded event in order
func (r *EventRecorder) Types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]events.Type, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
