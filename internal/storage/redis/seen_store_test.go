package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"chain-reactor/internal/storage"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestSeenStore_MarkSeen(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, setupRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewSeenStore(client, "")

	first, err := store.MarkSeen(ctx, "0xaa", time.Second)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkSeen(ctx, "0xaa", time.Second)
	require.NoError(t, err)
	assert.False(t, again)

	ttl, err := client.PTTL(ctx, DefaultPrefix+"0xaa").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.Eventually(t, func() bool {
		ok, err := store.MarkSeen(ctx, "0xaa", time.Second)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)

	_, err = store.MarkSeen(ctx, "", time.Second)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not a url")
	assert.Error(t, err)
}
