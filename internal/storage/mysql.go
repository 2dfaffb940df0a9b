package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"table-service/internal/config"
	"table-service/internal/logger"
	"table-service/internal/models"
)

type MySQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

// DSN builds the go-sql-driver connection string for cfg.
func DSN(cfg config.DatabaseConfig, extra string) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	if extra != "" {
		dsn += "&" + extra
	}
	return dsn
}

func NewMySQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*MySQLStore, error) {
	log.LogDatabase("CONNECT", "mysql", fmt.Sprintf("Connecting to MySQL at %s:%s", cfg.Host, cfg.Port))

	db, err := sql.Open("mysql", DSN(cfg, ""))
	if err != nil {
		log.Error("DATABASE", "Failed to open MySQL connection: "+err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Error("DATABASE", "Failed to ping MySQL: "+err.Error())
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{
		db:  db,
		log: log,
	}

	if err := store.initTables(ctx); err != nil {
		log.Error("DATABASE", "Failed to initialize tables: "+err.Error())
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.LogDatabase("SUCCESS", "mysql", "MySQL connection established and tables initialized")
	return store, nil
}

func (s *MySQLStore) initTables(ctx context.Context) error {
	s.log.LogDatabase("MIGRATE", "mysql", "Creating store_snapshots table if not exists")

	query := `
    CREATE TABLE IF NOT EXISTS store_snapshots (
        store_key VARCHAR(191) PRIMARY KEY,
        data LONGBLOB NOT NULL,
        updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
    `

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create store_snapshots table: %w", err)
	}

	s.log.LogDatabase("SUCCESS", "mysql", "Snapshot table ready")
	return nil
}

func (s *MySQLStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.log.LogDatabase("SELECT", "mysql", fmt.Sprintf("Loading snapshot %s", key))

	var rec models.SnapshotRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT store_key, data, updated_at FROM store_snapshots WHERE store_key = ?`, key,
	).Scan(&rec.StoreKey, &rec.Data, &rec.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.log.LogDatabase("NOT_FOUND", "mysql", fmt.Sprintf("Snapshot %s not found", key))
			return nil, ErrSnapshotNotFound
		}
		s.log.Error("DATABASE", fmt.Sprintf("Failed to load snapshot %s: %s", key, err.Error()))
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	s.log.LogDatabase("SUCCESS", "mysql", fmt.Sprintf("Snapshot %s loaded (%d bytes)", key, len(rec.Data)))
	return rec.Data, nil
}

func (s *MySQLStore) Persist(ctx context.Context, key string, data []byte) error {
	s.log.LogDatabase("UPSERT", "mysql", fmt.Sprintf("Persisting snapshot %s", key))

	query := `
    INSERT INTO store_snapshots (store_key, data, updated_at)
    VALUES (?, ?, ?)
    ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)
    `

	if _, err := s.db.ExecContext(ctx, query, key, data, time.Now().UTC()); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to persist snapshot %s: %s", key, err.Error()))
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// GetItemsSnapshot reads name and price for the given menu item ids from the
// menu_items table. Ids with no row are simply absent from the result.
func (s *MySQLStore) GetItemsSnapshot(ctx context.Context, ids []string) (map[string]models.MenuItemSnapshot, error) {
	out := make(map[string]models.MenuItemSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.log.LogDatabase("SELECT", "mysql", fmt.Sprintf("Fetching %d menu items", len(ids)))

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price_cents FROM menu_items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to query menu items: %s", err.Error()))
		return nil, fmt.Errorf("failed to query menu items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.MenuItemSnapshot
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents); err != nil {
			s.log.Error("DATABASE", fmt.Sprintf("Failed to scan menu item row: %s", err.Error()))
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		out[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Row iteration error: %s", err.Error()))
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	s.log.LogDatabase("SUCCESS", "mysql", fmt.Sprintf("Fetched %d of %d menu items", len(out), len(ids)))
	return out, nil
}

// DB exposes the pool so the menu catalog and migrations share it.
func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

func (s *MySQLStore) Close() error {
	s.log.LogDatabase("CLOSE", "mysql", "Closing MySQL connection")
	return s.db.Close()
}

func (s *MySQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
