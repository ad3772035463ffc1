// Package session tracks per-user, per-category sample counters and decides
// when enough distinct samples exist to trigger an expensive clone
// operation.
package session

import (
	"context"
	"sync"
)

// Store persists per (user, category) sample sets and the in-progress
// guard. TryLock must be atomic with respect to concurrent calls for the
// same pair: exactly one caller wins.
type Store interface {
	// AddSample records a sample and returns the count of distinct samples.
	// Recording the same sample twice does not advance the count.
	AddSample(ctx context.Context, userID, category, sampleID string) (int, error)

	// Count returns the number of distinct samples recorded.
	Count(ctx context.Context, userID, category string) (int, error)

	// TryLock atomically sets the in-progress guard. It returns false when
	// the guard was already held.
	TryLock(ctx context.Context, userID, category string) (bool, error)

	// Unlock clears the in-progress guard.
	Unlock(ctx context.Context, userID, category string) error

	// Locked reports whether the in-progress guard is held.
	Locked(ctx context.Context, userID, category string) (bool, error)

	// Reset clears the recorded samples, returning the pair toward idle
	// for the next cycle.
	Reset(ctx context.Context, userID, category string) error
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	mu       sync.Mutex
	samples  map[string]map[string]struct{}
	locks    map[string]struct{}
}

// NewMemoryStore creates an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		samples: make(map[string]map[string]struct{}),
		locks:   make(map[string]struct{}),
	}
}

func pairKey(userID, category string) string {
	return userID + ":" + category
}

func (s *memoryStore) AddSample(_ context.Context, userID, category, sampleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(userID, category)
	set, ok := s.samples[key]
	if !ok {
		set = make(map[string]struct{})
		s.samples[key] = set
	}
	set[sampleID] = struct{}{}
	return len(set), nil
}

func (s *memoryStore) Count(_ context.Context, userID, category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples[pairKey(userID, category)]), nil
}

func (s *memoryStore) TryLock(_ context.Context, userID, category string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(userID, category)
	if _, held := s.locks[key]; held {
		return false, nil
	}
	s.locks[key] = struct{}{}
	return true, nil
}

func (s *memoryStore) Unlock(_ context.Context, userID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, pairKey(userID, category))
	return nil
}

func (s *memoryStore) Locked(_ context.Context, userID, category string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[pairKey(userID, category)]
	return held, nil
}

func (s *memoryStore) Reset(_ context.Context, userID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, pairKey(userID, category))
	return nil
}
