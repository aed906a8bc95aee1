// Package seen tracks consumed payment ids so a signed witness cannot be
// replayed within its validity window.
package seen

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process implementation. Entries expire at the
// challenge deadline; expired entries are swept lazily.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	lastSweep time.Time

	// now is injectable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory seen store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

const sweepInterval = time.Minute

// MarkIfNew records the payment id and returns true if it was not already
// present. The entry is retained until now+ttl, at least as long as the
// witness deadline.
func (s *MemoryStore) MarkIfNew(_ context.Context, paymentID string, ttl time.Duration) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > sweepInterval {
		for id, expires := range s.entries {
			if now.After(expires) {
				delete(s.entries, id)
			}
		}
		s.lastSweep = now
	}

	if expires, ok := s.entries[paymentID]; ok && now.Before(expires) {
		return false, nil
	}

	s.entries[paymentID] = now.Add(ttl)
	return true, nil
}
