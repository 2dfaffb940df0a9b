package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/models"
	"table-service/internal/snapshot"
)

// inventoryFor returns the stock record for an item, creating it at the
// configured default the first time the item is seen.
func (s *OrderService) inventoryFor(d *snapshot.Data[models.OrderStoreData], menuItemID string, now time.Time) *models.InventoryRecord {
	if rec := d.Entities.FindInventory(menuItemID); rec != nil {
		return rec
	}
	d.Entities.Inventory = append(d.Entities.Inventory, models.InventoryRecord{
		MenuItemID: menuItemID,
		Stock:      s.cfg.DefaultStock,
		MinStock:   s.cfg.DefaultMinStock,
		UpdatedAt:  now,
	})
	return &d.Entities.Inventory[len(d.Entities.Inventory)-1]
}

func (s *OrderService) ListInventory(ctx context.Context) ([]models.InventoryRecord, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	out := d.Entities.Inventory
	sort.SliceStable(out, func(i, j int) bool { return out[i].MenuItemID < out[j].MenuItemID })
	return out, nil
}

// LowStock lists records at or below their minimum.
func (s *OrderService) LowStock(ctx context.Context) ([]models.InventoryRecord, error) {
	all, err := s.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.InventoryRecord{}
	for _, rec := range all {
		if rec.Stock <= rec.MinStock {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SetStock overwrites the stock level of one item, creating the record if
// needed.
func (s *OrderService) SetStock(ctx context.Context, menuItemID string, upd models.StockUpdate) (*models.InventoryRecord, error) {
	menuItemID = strings.TrimSpace(menuItemID)
	if menuItemID == "" {
		return nil, apperrors.Validation("menuItemId", "menu item id is required")
	}
	if upd.Stock == nil || *upd.Stock < 0 {
		return nil, apperrors.Validation("stock", "stock must be zero or more")
	}
	if upd.MinStock != nil && *upd.MinStock < 0 {
		return nil, apperrors.Validation("minStock", "min stock must be zero or more")
	}

	rec, err := snapshot.Apply(ctx, s.store, "set_stock", func(d *snapshot.Data[models.OrderStoreData]) (models.InventoryRecord, error) {
		now := s.now().UTC()
		rec := s.inventoryFor(d, menuItemID, now)
		rec.Stock = *upd.Stock
		if upd.MinStock != nil {
			rec.MinStock = *upd.MinStock
		}
		rec.UpdatedAt = now
		return *rec, nil
	})
	if err != nil {
		s.log.Error("INVENTORY", fmt.Sprintf("Failed to set stock for %s: %v", menuItemID, err))
		return nil, err
	}

	s.log.Info("INVENTORY", fmt.Sprintf("Stock for %s set to %d (min %d)", rec.MenuItemID, rec.Stock, rec.MinStock))
	s.bus.Publish(events.InventoryUpdated, rec)
	if rec.Stock <= rec.MinStock {
		s.bus.Publish(events.InventoryLowStock, rec)
	}
	return &rec, nil
}
