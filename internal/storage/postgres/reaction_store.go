package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chain-reactor/internal/domain"
	"chain-reactor/internal/storage"
)

// ReactionStore implements storage.ReactionStore using PostgreSQL.
type ReactionStore struct {
	pool *Pool
}

// NewReactionStore creates a new ReactionStore.
func NewReactionStore(pool *Pool) *ReactionStore {
	return &ReactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReactionStore = (*ReactionStore)(nil)

const reactionColumns = `
	reaction_id, run_id, kind, key, monitor, outcome, calls,
	submitted_tx, error, elapsed_us, observed_at, created_at
`

// Insert adds a new reaction. Returns ErrDuplicateKey if reaction_id exists.
func (s *ReactionStore) Insert(ctx context.Context, r *domain.Reaction) error {
	if r == nil || r.ReactionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO reactions (
			reaction_id, run_id, kind, key, monitor, outcome, calls,
			submitted_tx, error, elapsed_us, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		r.ReactionID, r.RunID, string(r.Kind), r.Key, r.Monitor, string(r.Outcome), r.Calls,
		r.SubmittedTx, r.Error, r.ElapsedUs, r.ObservedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reaction: %w", err)
	}
	return nil
}

// GetByID retrieves a reaction by its ID. Returns ErrNotFound if not exists.
func (s *ReactionStore) GetByID(ctx context.Context, reactionID string) (*domain.Reaction, error) {
	query := `SELECT ` + reactionColumns + ` FROM reactions WHERE reaction_id = $1`

	r, err := scanReaction(s.pool.QueryRow(ctx, query, reactionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get reaction by id: %w", err)
	}
	return r, nil
}

// GetByKey retrieves all reactions for a tx or block hash.
func (s *ReactionStore) GetByKey(ctx context.Context, key string) ([]*domain.Reaction, error) {
	query := `
		SELECT ` + reactionColumns + `
		FROM reactions
		WHERE key = $1
		ORDER BY observed_at ASC, reaction_id ASC
	`
	rows, err := s.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("get reactions by key: %w", err)
	}
	defer rows.Close()

	return scanReactions(rows)
}

// GetByTimeRange retrieves reactions observed within [start, end] (inclusive).
func (s *ReactionStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Reaction, error) {
	query := `
		SELECT ` + reactionColumns + `
		FROM reactions
		WHERE observed_at >= $1 AND observed_at <= $2
		ORDER BY observed_at ASC, reaction_id ASC
	`
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get reactions by time range: %w", err)
	}
	defer rows.Close()

	return scanReactions(rows)
}

func scanReaction(row pgx.Row) (*domain.Reaction, error) {
	var (
		r       domain.Reaction
		kind    string
		outcome string
	)
	err := row.Scan(
		&r.ReactionID, &r.RunID, &kind, &r.Key, &r.Monitor, &outcome, &r.Calls,
		&r.SubmittedTx, &r.Error, &r.ElapsedUs, &r.ObservedAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = domain.UnitKind(kind)
	r.Outcome = domain.Outcome(outcome)
	return &r, nil
}

func scanReactions(rows pgx.Rows) ([]*domain.Reaction, error) {
	var result []*domain.Reaction
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return result, nil
}
