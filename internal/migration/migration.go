// Package migration prepares the MySQL schema: the snapshot table used by the
// mysql store driver and the menu_items table read by the mysql catalog.
package migration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	"table-service/internal/catalog"
	"table-service/internal/logger"
	"table-service/internal/models"
)

var tableModels = []interface{}{
	(*models.SnapshotRecord)(nil),
	(*models.MenuItemSnapshot)(nil),
}

// Run creates missing tables and, when seed is non-empty, upserts the menu.
// It is safe to run repeatedly.
func Run(ctx context.Context, sqldb *sql.DB, seed []models.MenuItemSnapshot, log *logger.Logger) error {
	db := bun.NewDB(sqldb, mysqldialect.New())

	for _, m := range tableModels {
		q := db.NewCreateTable().Model(m).IfNotExists()
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", m, err)
		}
		log.LogDatabase("MIGRATE", "mysql", fmt.Sprintf("Table for %T ready", m))
	}

	if len(seed) == 0 {
		return nil
	}
	if err := catalog.NewMySQLCatalog(sqldb).Upsert(ctx, seed); err != nil {
		return err
	}
	log.LogDatabase("MIGRATE", "mysql", fmt.Sprintf("Seeded %d menu items", len(seed)))
	return nil
}
