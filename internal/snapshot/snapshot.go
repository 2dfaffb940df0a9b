// Package snapshot implements a versioned, durably persisted entity set. All
// mutations run through one queue.Queue: load the committed snapshot, clone it,
// mutate the clone, bump the version, persist, then swap it in.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"table-service/internal/apperrors"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/queue"
	"table-service/internal/storage"
)

// Data is the persisted shape of a store.
type Data[T any] struct {
	Entities T                    `json:"entities"`
	Metadata models.StoreMetadata `json:"metadata"`
	Sequence int64                `json:"sequence"`
}

// NextSequence allocates the next value of the store's id sequence.
func (d *Data[T]) NextSequence() int64 {
	d.Sequence++
	return d.Sequence
}

var errNotInitialized = errors.New("store not initialized")

type Store[T any] struct {
	name    string
	key     string
	backend storage.Backend
	queue   *queue.Queue
	log     *logger.Logger
	initial func() T
	now     func() time.Time

	mu      sync.RWMutex
	encoded []byte
	version int64
}

type Options struct {
	Key         string
	QueueBuffer int
	Now         func() time.Time
}

// New builds a store named name over backend. initial supplies the empty
// entity set used when the backend holds no snapshot yet.
func New[T any](name string, backend storage.Backend, initial func() T, log *logger.Logger, opts Options) *Store[T] {
	if opts.Key == "" {
		opts.Key = name
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueBuffer <= 0 {
		opts.QueueBuffer = 64
	}
	return &Store[T]{
		name:    name,
		key:     opts.Key,
		backend: backend,
		queue:   queue.New(name, opts.QueueBuffer, log),
		log:     log,
		initial: initial,
		now:     opts.Now,
	}
}

func (s *Store[T]) Name() string {
	return s.name
}

// Initialize loads the last persisted snapshot, or starts from the initial
// entity set when there is none.
func (s *Store[T]) Initialize(ctx context.Context) error {
	return s.queue.Do(ctx, "initialize", func(ctx context.Context) error {
		raw, err := s.backend.Load(ctx, s.key)
		switch {
		case errors.Is(err, storage.ErrSnapshotNotFound):
			s.log.LogDatabase("INIT", s.name, "No persisted snapshot, starting empty")
			raw, err = json.Marshal(Data[T]{Entities: s.initial()})
			if err != nil {
				return fmt.Errorf("failed to encode initial %s snapshot: %w", s.name, err)
			}
		case err != nil:
			return apperrors.Internal(fmt.Sprintf("failed to load %s store", s.name), err).With("store", s.name)
		}

		var d Data[T]
		if err := json.Unmarshal(raw, &d); err != nil {
			return apperrors.Internal(fmt.Sprintf("corrupt %s snapshot", s.name), err).With("store", s.name)
		}

		s.mu.Lock()
		s.encoded = raw
		s.version = d.Metadata.Version
		s.mu.Unlock()

		s.log.LogDatabase("INIT", s.name, fmt.Sprintf("Loaded snapshot version %d", d.Metadata.Version))
		return nil
	})
}

// Close drains pending mutations. The backend is owned by the caller.
func (s *Store[T]) Close() {
	s.queue.Close()
}

func (s *Store[T]) decode() (*Data[T], error) {
	s.mu.RLock()
	raw := s.encoded
	s.mu.RUnlock()

	if raw == nil {
		return nil, errNotInitialized
	}
	var d Data[T]
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Read returns a private copy of the last committed snapshot. It does not
// wait for queued mutations, so it may be slightly stale.
func (s *Store[T]) Read() (Data[T], error) {
	d, err := s.decode()
	if err != nil {
		return Data[T]{}, apperrors.Internal(fmt.Sprintf("failed to read %s store", s.name), err).With("store", s.name)
	}
	return *d, nil
}

// Version is the version of the last committed snapshot.
func (s *Store[T]) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Apply runs fn as one mutation. fn receives a private clone; if it returns an
// error nothing is persisted and the committed snapshot is unchanged.
func Apply[T any, R any](ctx context.Context, s *Store[T], op string, fn func(d *Data[T]) (R, error)) (R, error) {
	var result R
	err := s.queue.Do(ctx, op, func(ctx context.Context) error {
		work, err := s.decode()
		if err != nil {
			return apperrors.Internal(fmt.Sprintf("failed to clone %s store", s.name), err).With("store", s.name)
		}

		r, err := fn(work)
		if err != nil {
			return err
		}

		work.Metadata.Version++
		work.Metadata.UpdatedAt = s.now().UTC()

		raw, err := json.Marshal(work)
		if err != nil {
			return apperrors.Internal(fmt.Sprintf("failed to encode %s snapshot", s.name), err).With("store", s.name)
		}
		if err := s.backend.Persist(ctx, s.key, raw); err != nil {
			s.log.Error("DATABASE", fmt.Sprintf("Persist of %s failed during %s: %s", s.name, op, err.Error()))
			return apperrors.Internal(fmt.Sprintf("failed to persist %s store", s.name), err).
				With("store", s.name).
				With("operation", op)
		}

		s.mu.Lock()
		s.encoded = raw
		s.version = work.Metadata.Version
		s.mu.Unlock()

		result = r
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

// View runs fn against the latest snapshot after every previously submitted
// mutation has committed. Nothing is persisted.
func View[T any, R any](ctx context.Context, s *Store[T], op string, fn func(d Data[T]) (R, error)) (R, error) {
	var result R
	err := s.queue.Do(ctx, op, func(ctx context.Context) error {
		d, err := s.decode()
		if err != nil {
			return apperrors.Internal(fmt.Sprintf("failed to read %s store", s.name), err).With("store", s.name)
		}
		result, err = fn(*d)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
