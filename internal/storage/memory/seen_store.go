package memory

import (
	"context"
	"sync"
	"time"

	"chain-reactor/internal/storage"
)

// SeenStore is an in-memory implementation of storage.SeenStore.
// Expired keys are dropped lazily.
type SeenStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewSeenStore creates a new in-memory seen store.
func NewSeenStore() *SeenStore {
	return &SeenStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkSeen records key for ttl. A non-positive ttl never expires.
func (s *SeenStore) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	s.expires[key] = exp
	return true, nil
}

// Verify interface compliance at compile time.
var _ storage.SeenStore = (*SeenStore)(nil)
