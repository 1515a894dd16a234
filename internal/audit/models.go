package audit

import "time"

// Event is an immutable, append-only record of something that happened to a
// negotiation: a state transition or an anomaly that was discarded.
//
// Invariants:
// - Events are never updated or deleted.
// - negotiation_id is required.
// - Audit is best-effort; callers never block a transition on it.
type Event struct {
	ID            string    `json:"id"`
	NegotiationID string    `json:"negotiation_id"`
	OwnerID       string    `json:"owner_id,omitempty"`
	Type          EventType `json:"type"`

	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`

	ProviderCallID string `json:"provider_call_id,omitempty"`

	// Message is a short human-readable description for ops.
	Message string `json:"message,omitempty"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCreated    EventType = "negotiation.created"
	EventTypeCallPlaced EventType = "negotiation.call_placed"
	EventTypeCallFailed EventType = "negotiation.call_failed"
	EventTypeCompleted  EventType = "negotiation.completed"
	EventTypeDuplicate  EventType = "negotiation.duplicate_result"
	EventTypeAnomaly    EventType = "negotiation.anomaly"
)
