package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for a single browser session. It is the
// backend used by tests and by embedders that manage scoping themselves.
type MemoryStore struct {
	mu      sync.Mutex
	attempt *Attempt
	saved   time.Time
	ttl     time.Duration
	record  Record
}

// NewMemoryStore returns an empty store. The in-flight attempt expires after
// DefaultAttemptTTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ttl: DefaultAttemptTTL}
}

// SaveInFlight implements Store.
func (s *MemoryStore) SaveInFlight(_ context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = &a
	s.saved = time.Now()
	return nil
}

// LoadInFlight implements Store.
func (s *MemoryStore) LoadInFlight(_ context.Context) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return Attempt{}, false, nil
	}
	if s.ttl > 0 && time.Since(s.saved) > s.ttl {
		s.attempt = nil
		return Attempt{}, false, nil
	}
	return *s.attempt, true, nil
}

// ClearInFlight implements Store.
func (s *MemoryStore) ClearInFlight(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = nil
	return nil
}

// LoadRecord implements Store.
func (s *MemoryStore) LoadRecord(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, nil
}

// SaveRecord implements Store.
func (s *MemoryStore) SaveRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = rec
	return nil
}

var _ Store = (*MemoryStore)(nil)
