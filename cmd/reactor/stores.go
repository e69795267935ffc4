package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chain-reactor/internal/config"
	"chain-reactor/internal/storage"
	chstore "chain-reactor/internal/storage/clickhouse"
	"chain-reactor/internal/storage/memory"
	pgstore "chain-reactor/internal/storage/postgres"
	redisstore "chain-reactor/internal/storage/redis"
)

// stores holds the engine's storage backends and what must be closed on exit.
type stores struct {
	reactions storage.ReactionStore
	latencies storage.LatencyStore
	seen      storage.SeenStore
	closers   []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the configured backends. Any backend without a DSN
// falls back to memory.
func openStores(ctx context.Context, sc config.StorageConfig, logger *zap.Logger) (*stores, error) {
	st := &stores{
		reactions: memory.NewReactionStore(),
		latencies: memory.NewLatencyStore(),
		seen:      memory.NewSeenStore(),
	}

	if sc.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, sc.PostgresDSN, sc.PostgresConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		st.reactions = pgstore.NewReactionStore(pool)
		logger.Info("reactions stored in postgres")
	}

	if sc.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, sc.ClickhouseDSN)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		st.closers = append(st.closers, func() { conn.Close() })
		st.latencies = chstore.NewLatencyStore(conn)
		logger.Info("latencies stored in clickhouse")
	}

	if sc.RedisURL != "" {
		client, err := redisstore.NewClient(ctx, sc.RedisURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		st.closers = append(st.closers, func() { client.Close() })
		st.seen = redisstore.NewSeenStore(client, sc.RedisPrefix)
		logger.Info("seen markers stored in redis")
	}

	return st, nil
}
