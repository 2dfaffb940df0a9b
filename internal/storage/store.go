package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Backend persists whole store snapshots under a key. Implementations only
// need atomic whole-key replace; the snapshot layer handles everything else.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Persist(ctx context.Context, key string, data []byte) error
	Close() error
}

// Key builds the backend key for a named store, e.g. "table-service:orders".
func Key(prefix, store string) string {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		return store
	}
	return fmt.Sprintf("%s:%s", prefix, store)
}
