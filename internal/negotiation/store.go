package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// UpdateFunc mutates a negotiation in place. Returning an error aborts the
// update and leaves the stored record untouched.
type UpdateFunc func(n *Negotiation) error

// Store is the single authoritative backing store for negotiations.
//
// Update is the only way to change a record: implementations run fn against
// the current state while holding a per-id lock, so two writers can never
// interleave a read-modify-write on the same negotiation.
type Store interface {
	Insert(ctx context.Context, n Negotiation) error
	Get(ctx context.Context, id string) (Negotiation, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Negotiation, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Negotiation, error)
}

var ErrDuplicateID = errors.New("negotiation: duplicate id")

// MemoryStore is a mutex-guarded in-process Store. State is lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Negotiation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]Negotiation{}}
}

func (s *MemoryStore) Insert(ctx context.Context, n Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}
	s.byID[n.ID] = n.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return Negotiation{}, &NotFoundError{ID: id}
	}
	return n.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return Negotiation{}, &NotFoundError{ID: id}
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur.clone(), err
	}
	s.byID[id] = next.clone()
	return next, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Negotiation, error) {
	s.mu.Lock()
	out := make([]Negotiation, 0)
	for _, n := range s.byID {
		if n.OwnerID == ownerID {
			out = append(out, n.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
