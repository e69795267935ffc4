package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"chain-reactor/internal/domain"
	"chain-reactor/internal/storage"
)

// LatencyStore implements storage.LatencyStore using ClickHouse.
type LatencyStore struct {
	conn *Conn
}

// NewLatencyStore creates a new LatencyStore.
func NewLatencyStore(conn *Conn) *LatencyStore {
	return &LatencyStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LatencyStore = (*LatencyStore)(nil)

// InsertBulk sends samples as a single batch.
func (s *LatencyStore) InsertBulk(ctx context.Context, samples []*domain.LatencySample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO latency_samples (
			run_id, key, stage, monitor, elapsed_us, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, smp := range samples {
		if smp == nil {
			_ = batch.Abort()
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			smp.RunID, smp.Key, string(smp.Stage), smp.Monitor,
			uint64(smp.ElapsedUs), uint64(smp.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves samples within [start, end] (inclusive).
func (s *LatencyStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.LatencySample, error) {
	query := `
		SELECT run_id, key, stage, monitor, elapsed_us, timestamp_ms
		FROM latency_samples
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, stage ASC, key ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanLatencySamples(rows)
}

func scanLatencySamples(rows driver.Rows) ([]*domain.LatencySample, error) {
	var samples []*domain.LatencySample

	for rows.Next() {
		var (
			smp                  domain.LatencySample
			stage                string
			elapsedUs, timestamp uint64
		)
		if err := rows.Scan(&smp.RunID, &smp.Key, &stage, &smp.Monitor, &elapsedUs, &timestamp); err != nil {
			return nil, fmt.Errorf("scan latency sample row: %w", err)
		}
		smp.Stage = domain.Stage(stage)
		smp.ElapsedUs = int64(elapsedUs)
		smp.TimestampMs = int64(timestamp)
		samples = append(samples, &smp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latency sample rows: %w", err)
	}
	return samples, nil
}
