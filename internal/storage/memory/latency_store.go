package memory

import (
	"context"
	"sort"
	"sync"

	"chain-reactor/internal/domain"
	"chain-reactor/internal/storage"
)

// LatencyStore is an in-memory implementation of storage.LatencyStore.
type LatencyStore struct {
	mu      sync.RWMutex
	samples []*domain.LatencySample
}

// NewLatencyStore creates a new in-memory latency store.
func NewLatencyStore() *LatencyStore {
	return &LatencyStore{}
}

// InsertBulk appends samples.
func (s *LatencyStore) InsertBulk(_ context.Context, samples []*domain.LatencySample) error {
	for _, smp := range samples {
		if smp == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, smp := range samples {
		sampleCopy := *smp
		s.samples = append(s.samples, &sampleCopy)
	}
	return nil
}

// GetByTimeRange retrieves samples within [start, end] (inclusive).
func (s *LatencyStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.LatencySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LatencySample
	for _, smp := range s.samples {
		if smp.TimestampMs >= start && smp.TimestampMs <= end {
			sampleCopy := *smp
			result = append(result, &sampleCopy)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.LatencyStore = (*LatencyStore)(nil)
