package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type entry struct {
	mu      sync.Mutex
	state   *State
	evicted bool
}

// Store holds exactly one State per user. Updates for the same user are
// serialized; different users never block each other beyond the map lookup.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update runs fn against the user's state while holding that user's lock,
// creating the state on first use. LastActivity is refreshed afterwards even
// when fn returns an error.
func (s *Store) Update(userID string, fn func(*State) error) error {
	for {
		// An evicted entry means we lost a race with EvictIdle; retry
		// against the replacement.
		if applied, err := s.apply(s.lookup(userID), fn); applied {
			return err
		}
	}
}

func (s *Store) apply(e *entry, fn func(*State) error) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false, nil
	}
	defer func() { e.state.LastActivity = s.now() }()
	return true, fn(e.state)
}

func (s *Store) lookup(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{state: NewState(userID, s.now())}
		s.entries[userID] = e
	}
	return e
}

// Get returns a snapshot of the user's state.
func (s *Store) Get(userID string) (*State, bool) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, false
	}
	return e.state.Clone(), true
}

// Len returns the number of tracked users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictIdle drops states whose last activity is older than ttl. States whose
// user is mid-update are skipped. It returns the number evicted.
func (s *Store) EvictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for userID, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.state.LastActivity.Before(cutoff) {
			e.evicted = true
			delete(s.entries, userID)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

// Sweep evicts idle states every interval until ctx is done. A ttl <= 0
// disables eviction and Sweep returns immediately.
func (s *Store) Sweep(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = max(ttl/4, time.Second)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ttl); n > 0 {
				log.Debug().Int("evicted", n).Dur("ttl", ttl).Msg("Evicted idle conversation states")
			}
		}
	}
}
