package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"table-service/internal/logger"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewPostgresStore(ctx context.Context, url string, log *logger.Logger) (*PostgresStore, error) {
	log.LogDatabase("CONNECT", "postgres", "Connecting to PostgreSQL")

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Error("DATABASE", "Failed to open PostgreSQL pool: "+err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Error("DATABASE", "Failed to ping PostgreSQL: "+err.Error())
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
    CREATE TABLE IF NOT EXISTS store_snapshots (
        store_key TEXT PRIMARY KEY,
        data BYTEA NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create store_snapshots table: %w", err)
	}

	log.LogDatabase("SUCCESS", "postgres", "PostgreSQL connection established and tables initialized")
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM store_snapshots WHERE store_key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.LogDatabase("NOT_FOUND", "postgres", fmt.Sprintf("Snapshot %s not found", key))
			return nil, ErrSnapshotNotFound
		}
		s.log.Error("DATABASE", fmt.Sprintf("Failed to load snapshot %s: %s", key, err.Error()))
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) Persist(ctx context.Context, key string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO store_snapshots (store_key, data, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (store_key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		key, data)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to persist snapshot %s: %s", key, err.Error()))
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.log.LogDatabase("CLOSE", "postgres", "Closing PostgreSQL pool")
	s.pool.Close()
	return nil
}
