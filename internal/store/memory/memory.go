package memory

import (
	"context"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
)

// Store keeps violations in process memory. Used by tests and when no
// durable backend is configured.
type Store struct {
	mu         sync.RWMutex
	violations map[string]*models.Violation
}

func New() *Store {
	return &Store{violations: make(map[string]*models.Violation)}
}

func (s *Store) Put(_ context.Context, v *models.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.violations[v.ID]; ok {
		if existing.Version >= v.Version {
			return nil
		}
		// resolved is terminal even if an out-of-band resolve bumped the version
		if existing.IsResolved() && !v.IsResolved() {
			return nil
		}
	}

	s.violations[v.ID] = v.Clone()
	return nil
}

func (s *Store) Resolve(_ context.Context, id string, at time.Time, reason models.ResolveReason) (models.ResolveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[id]
	if !ok {
		return models.ResolveNotFound, nil
	}
	if !store.MarkResolved(v, at, reason) {
		return models.ResolveAlreadyResolved, nil
	}
	return models.ResolveApplied, nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.violations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.Clone(), nil
}

func (s *Store) BulkRead(_ context.Context, filter store.Filter) ([]*models.Violation, error) {
	s.mu.RLock()
	out := make([]*models.Violation, 0, len(s.violations))
	for _, v := range s.violations {
		if filter.Matches(v) {
			out = append(out, v.Clone())
		}
	}
	s.mu.RUnlock()

	return store.SortAndPage(out, filter), nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.violations)
}
