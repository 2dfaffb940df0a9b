package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"table-service/internal/logger"
	"table-service/internal/storage"
)

// SnapshotStore is a storage.Backend keeping each snapshot as a plain
// string value. SET replaces the whole key atomically.
type SnapshotStore struct {
	client *redis.Client
	log    *logger.Logger
}

func NewSnapshotStore(client *redis.Client, log *logger.Logger) *SnapshotStore {
	return &SnapshotStore{client: client, log: log}
}

func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.log.LogDatabase("NOT_FOUND", "redis", fmt.Sprintf("Snapshot %s not found", key))
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to load snapshot %s: %s", key, err.Error()))
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

func (s *SnapshotStore) Persist(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to persist snapshot %s: %s", key, err.Error()))
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the client is shared with the checkout lock and closed
// by its owner.
func (s *SnapshotStore) Close() error {
	return nil
}
