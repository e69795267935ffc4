package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"chain-reactor/internal/domain"
	"chain-reactor/internal/storage/clickhouse"
	"chain-reactor/internal/storage/migrations"
)

// setupConn starts a ClickHouse container and applies the embedded migrations.
func setupConn(t *testing.T) *clickhouse.Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{"CLICKHOUSE_DB": "reactor"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := migrations.RunClickhouseMigrations(ctx, fmt.Sprintf("clickhouse://default:@%s:%s/reactor", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLatencyStore_InsertBulkAndRange(t *testing.T) {
	store := clickhouse.NewLatencyStore(setupConn(t))
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, nil))

	err := store.InsertBulk(ctx, []*domain.LatencySample{
		{RunID: "run", Key: "0x01", Stage: domain.StageUnit, ElapsedUs: 900, TimestampMs: 3000},
		{RunID: "run", Key: "0x01", Stage: domain.StageFetch, ElapsedUs: 120, TimestampMs: 1000},
		{RunID: "run", Key: "0x02", Stage: domain.StageMonitor, Monitor: "watch", ElapsedUs: 40, TimestampMs: 2000},
	})
	require.NoError(t, err)

	got, err := store.GetByTimeRange(ctx, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StageFetch, got[0].Stage)
	assert.Equal(t, int64(120), got[0].ElapsedUs)
	assert.Equal(t, "watch", got[1].Monitor)
	assert.Equal(t, int64(2000), got[1].TimestampMs)
}
