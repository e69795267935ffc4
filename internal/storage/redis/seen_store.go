// Package redis keeps handled-key markers in Redis so restarts do not react twice.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"chain-reactor/internal/storage"
)

// DefaultPrefix namespaces seen markers.
const DefaultPrefix = "reactor:seen:"

// SeenStore implements storage.SeenStore with SET NX.
type SeenStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewSeenStore creates a SeenStore. An empty prefix uses DefaultPrefix.
func NewSeenStore(client goredis.UniversalClient, prefix string) *SeenStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SeenStore{client: client, prefix: prefix}
}

// Compile-time interface check.
var _ storage.SeenStore = (*SeenStore)(nil)

// MarkSeen sets key if absent. A non-positive ttl never expires.
func (s *SeenStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidInput
	}
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return ok, nil
}
