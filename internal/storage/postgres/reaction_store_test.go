package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"chain-reactor/internal/domain"
	"chain-reactor/internal/storage"
	"chain-reactor/internal/storage/migrations"
	"chain-reactor/internal/storage/postgres"
)

// setupPool starts a PostgreSQL container and applies the embedded migrations.
func setupPool(t *testing.T) *postgres.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("reactor"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool))
	return pool
}

func ptr[T any](v T) *T {
	return &v
}

func TestReactionStore_InsertAndGetByID(t *testing.T) {
	store := postgres.NewReactionStore(setupPool(t))
	ctx := context.Background()

	r := &domain.Reaction{
		ReactionID:  "reaction-001",
		RunID:       "run-1",
		Kind:        domain.UnitPending,
		Key:         "0xabc",
		Monitor:     "watch",
		Outcome:     domain.OutcomeSubmitted,
		Calls:       3,
		SubmittedTx: ptr("0xdef"),
		ElapsedUs:   4200,
		ObservedAt:  1700000000000,
	}
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetByID(ctx, "reaction-001")
	require.NoError(t, err)
	assert.Equal(t, r.Kind, got.Kind)
	assert.Equal(t, r.Outcome, got.Outcome)
	assert.Equal(t, 3, got.Calls)
	require.NotNil(t, got.SubmittedTx)
	assert.Equal(t, "0xdef", *got.SubmittedTx)
	assert.Nil(t, got.Error)
	assert.NotZero(t, got.CreatedAt)

	assert.ErrorIs(t, store.Insert(ctx, r), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReactionStore_GetByKeyAndTimeRange(t *testing.T) {
	store := postgres.NewReactionStore(setupPool(t))
	ctx := context.Background()

	for _, r := range []*domain.Reaction{
		{ReactionID: "b", RunID: "run", Kind: domain.UnitPending, Key: "0x1", Outcome: domain.OutcomeNoAction, ObservedAt: 2000},
		{ReactionID: "a", RunID: "run", Kind: domain.UnitPending, Key: "0x1", Outcome: domain.OutcomeFailed, Error: ptr("boom"), ObservedAt: 1000},
		{ReactionID: "c", RunID: "run", Kind: domain.UnitBlock, Key: "0x2", Outcome: domain.OutcomeBlockHandled, ObservedAt: 3000},
	} {
		require.NoError(t, store.Insert(ctx, r))
	}

	byKey, err := store.GetByKey(ctx, "0x1")
	require.NoError(t, err)
	require.Len(t, byKey, 2)
	assert.Equal(t, "a", byKey[0].ReactionID)
	assert.Equal(t, "boom", *byKey[0].Error)
	assert.Equal(t, "b", byKey[1].ReactionID)

	inRange, err := store.GetByTimeRange(ctx, 2000, 3000)
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, domain.UnitBlock, inRange[1].Kind)
}
