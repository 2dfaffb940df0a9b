package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	"table-service/internal/models"
)

// MySQLCatalog reads menu items straight from the menu_items table, so
// price changes apply to the next order without a restart.
type MySQLCatalog struct {
	db *bun.DB
}

func NewMySQLCatalog(sqldb *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: bun.NewDB(sqldb, mysqldialect.New())}
}

func (c *MySQLCatalog) GetItemsSnapshot(ctx context.Context, ids []string) (map[string]models.MenuItemSnapshot, error) {
	out := make(map[string]models.MenuItemSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var items []models.MenuItemSnapshot
	err := c.db.NewSelect().
		Model(&items).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu items: %w", err)
	}
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

// Upsert writes items into menu_items, replacing names and prices of
// existing ids.
func (c *MySQLCatalog) Upsert(ctx context.Context, items []models.MenuItemSnapshot) error {
	if len(items) == 0 {
		return nil
	}
	_, err := c.db.NewInsert().
		Model(&items).
		On("DUPLICATE KEY UPDATE").
		Set("name = VALUES(name)").
		Set("price_cents = VALUES(price_cents)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert menu items: %w", err)
	}
	return nil
}
