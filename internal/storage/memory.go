package storage

import (
	"context"
	"sync"
)

type InMemoryStore struct {
	snapshots map[string][]byte
	mutex     sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[string][]byte),
	}
}

func (s *InMemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, exists := s.snapshots[key]
	if !exists {
		return nil, ErrSnapshotNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *InMemoryStore) Persist(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.snapshots[key] = buf
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
