// Package memory is an in-process storage driver. Data lives for the
// lifetime of the process.
package memory

import (
	"context"
	"sync"

	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/pkg/models"
)

// Store implements storage.Store with slices guarded by a RWMutex.
type Store struct {
	mu          sync.RWMutex
	closed      bool
	feedback    []models.Feedback
	allocations []models.Allocation
	problems    []*models.ProblemRecord
	problemIdx  map[string]int
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{problemIdx: make(map[string]int)}
}

func (s *Store) StoreFeedback(ctx context.Context, fb models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.feedback = append(s.feedback, fb)
	return nil
}

func (s *Store) StoreAllocation(ctx context.Context, a models.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	acts := make(map[string]float64, len(a.Activities))
	for k, v := range a.Activities {
		acts[k] = v
	}
	a.Activities = acts
	s.allocations = append(s.allocations, a)
	return nil
}

func (s *Store) ListProblems(ctx context.Context) ([]*models.ProblemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	out := make([]*models.ProblemRecord, len(s.problems))
	for i, p := range s.problems {
		out[i] = p.Clone()
	}
	return out, nil
}

func (s *Store) UpsertProblem(ctx context.Context, p *models.ProblemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if i, ok := s.problemIdx[p.ID]; ok {
		s.problems[i] = p.Clone()
		return nil
	}
	s.problemIdx[p.ID] = len(s.problems)
	s.problems = append(s.problems, p.Clone())
	return nil
}

func (s *Store) ListFeedback(ctx context.Context, userID string) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var out []models.Feedback
	for _, fb := range s.feedback {
		if userID == "" || fb.UserID == userID {
			out = append(out, fb)
		}
	}
	return out, nil
}

func (s *Store) ListAllocations(ctx context.Context, userID string) ([]models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var out []models.Allocation
	for _, a := range s.allocations {
		if userID == "" || a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
