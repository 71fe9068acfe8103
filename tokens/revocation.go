package tokens

import (
	"context"
	"sync"
	"time"
)

// RevocationStore records revoked token ids until a deadline
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	// RevokeOnce revokes jti unless it is already revoked and reports whether
	// this call recorded it
	RevokeOnce(ctx context.Context, jti string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationStore is a process-local RevocationStore for development
// and tests. Entries are dropped once their deadline passes.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationStore creates an empty in-memory store
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks jti revoked until the given time
func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, until time.Time) error {
	if !until.After(s.now()) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = until
	return nil
}

// RevokeOnce marks jti revoked until the given time if no live entry exists
func (s *MemoryRevocationStore) RevokeOnce(_ context.Context, jti string, until time.Time) (bool, error) {
	now := s.now()
	if !until.After(now) {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[jti]; ok && now.Before(existing) {
		return false, nil
	}
	s.entries[jti] = until
	return true, nil
}

// IsRevoked reports whether jti is currently revoked
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	until, ok := s.entries[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if s.now().Before(until) {
		return true, nil
	}

	s.mu.Lock()
	delete(s.entries, jti)
	s.mu.Unlock()
	return false, nil
}

// Prune removes expired entries and returns how many were dropped
func (s *MemoryRevocationStore) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for jti, until := range s.entries {
		if !now.Before(until) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed
}
