package memory

import (
	"context"
	"sort"
	"sync"

	"chain-reactor/internal/domain"
	"chain-reactor/internal/storage"
)

// ReactionStore is an in-memory implementation of storage.ReactionStore.
type ReactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Reaction // keyed by reaction_id
}

// NewReactionStore creates a new in-memory reaction store.
func NewReactionStore() *ReactionStore {
	return &ReactionStore{
		data: make(map[string]*domain.Reaction),
	}
}

// Insert adds a new reaction. Returns ErrDuplicateKey if reaction_id exists.
func (s *ReactionStore) Insert(_ context.Context, r *domain.Reaction) error {
	if r == nil || r.ReactionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ReactionID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	reactionCopy := *r
	s.data[r.ReactionID] = &reactionCopy
	return nil
}

// GetByID retrieves a reaction by its ID. Returns ErrNotFound if not exists.
func (s *ReactionStore) GetByID(_ context.Context, reactionID string) (*domain.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[reactionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	reactionCopy := *r
	return &reactionCopy, nil
}

// GetByKey retrieves all reactions for a tx or block hash.
func (s *ReactionStore) GetByKey(_ context.Context, key string) ([]*domain.Reaction, error) {
	return s.filter(func(r *domain.Reaction) bool { return r.Key == key }), nil
}

// GetByTimeRange retrieves reactions observed within [start, end] (inclusive).
func (s *ReactionStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Reaction, error) {
	return s.filter(func(r *domain.Reaction) bool {
		return r.ObservedAt >= start && r.ObservedAt <= end
	}), nil
}

// Len returns the number of stored reactions.
func (s *ReactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *ReactionStore) filter(keep func(*domain.Reaction) bool) []*domain.Reaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Reaction
	for _, r := range s.data {
		if keep(r) {
			reactionCopy := *r
			result = append(result, &reactionCopy)
		}
	}

	// Sort by observed_at ASC, reaction_id ASC
	sort.Slice(result, func(i, j int) bool {
		if result[i].ObservedAt != result[j].ObservedAt {
			return result[i].ObservedAt < result[j].ObservedAt
		}
		return result[i].ReactionID < result[j].ReactionID
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.ReactionStore = (*ReactionStore)(nil)
