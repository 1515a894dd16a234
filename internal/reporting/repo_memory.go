package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"negotiator/internal/negotiation"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces owner isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Negotiations []negotiation.Negotiation
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListNegotiations(ctx context.Context, ownerID string, from, to time.Time) ([]negotiation.Negotiation, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	rng := TimeRange{From: from, To: to}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]negotiation.Negotiation, 0)
	for _, n := range r.Negotiations {
		if n.OwnerID != ownerID || !rng.contains(n.CreatedAt) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// RegistryRepo reads from the live negotiation registry.
type RegistryRepo struct {
	registry *negotiation.Registry
}

func NewRegistryRepo(reg *negotiation.Registry) *RegistryRepo { return &RegistryRepo{registry: reg} }

func (r *RegistryRepo) ListNegotiations(ctx context.Context, ownerID string, from, to time.Time) ([]negotiation.Negotiation, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	all, err := r.registry.ListByOwner(ctx, ownerID, 0)
	if err != nil {
		return nil, err
	}
	rng := TimeRange{From: from, To: to}
	out := all[:0]
	for _, n := range all {
		if rng.contains(n.CreatedAt) {
			out = append(out, n)
		}
	}
	return out, nil
}
