package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process. Used by tests and single-node dev runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForNegotiation returns the events recorded for one negotiation, oldest first.
func (r *MemoryRepo) ForNegotiation(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.NegotiationID == id {
			out = append(out, e)
		}
	}
	return out
}
