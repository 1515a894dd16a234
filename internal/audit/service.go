package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.NegotiationID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records a status change.
func (s *Service) LogTransition(ctx context.Context, typ EventType, negotiationID, ownerID, from, to, providerCallID, message string) error {
	return s.Append(ctx, Event{
		NegotiationID:  negotiationID,
		OwnerID:        ownerID,
		Type:           typ,
		FromStatus:     from,
		ToStatus:       to,
		ProviderCallID: providerCallID,
		Message:        message,
	})
}

// LogAnomaly records an input that was ignored because the negotiation was
// unknown or already terminal.
func (s *Service) LogAnomaly(ctx context.Context, typ EventType, negotiationID, status, message string) error {
	return s.Append(ctx, Event{
		NegotiationID: negotiationID,
		Type:          typ,
		FromStatus:    status,
		ToStatus:      status,
		Message:       message,
	})
}
