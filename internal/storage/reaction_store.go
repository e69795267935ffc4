package storage

import (
	"context"
	"time"

	"chain-reactor/internal/domain"
)

// ReactionStore provides access to reactions storage.
type ReactionStore interface {
	// Insert adds a new reaction. Returns ErrDuplicateKey if reaction_id exists.
	Insert(ctx context.Context, r *domain.Reaction) error

	// GetByID retrieves a reaction by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, reactionID string) (*domain.Reaction, error)

	// GetByKey retrieves all reactions for a tx or block hash, ordered by observed_at ASC.
	GetByKey(ctx context.Context, key string) ([]*domain.Reaction, error)

	// GetByTimeRange retrieves reactions observed within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Reaction, error)
}

// LatencyStore provides access to latency_samples storage.
type LatencyStore interface {
	// InsertBulk adds multiple samples. Samples are not deduplicated.
	InsertBulk(ctx context.Context, samples []*domain.LatencySample) error

	// GetByTimeRange retrieves samples within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.LatencySample, error)
}

// SeenStore deduplicates handled keys across engine restarts.
type SeenStore interface {
	// MarkSeen records key for ttl and reports whether this call was the first to do so.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
