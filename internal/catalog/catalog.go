// Package catalog serves menu item names and prices from a YAML file or
// the menu_items table.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"table-service/internal/models"
)

type menuFile struct {
	Items []models.MenuItemSnapshot `yaml:"items"`
}

type Catalog struct {
	items map[string]models.MenuItemSnapshot
}

func New(items []models.MenuItemSnapshot) *Catalog {
	c := &Catalog{items: make(map[string]models.MenuItemSnapshot, len(items))}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f menuFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse menu: %w", err)
	}
	for i, it := range f.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("menu item %d has no id", i)
		}
		if it.PriceCents < 0 {
			return nil, fmt.Errorf("menu item %s has a negative price", it.ID)
		}
	}
	return New(f.Items), nil
}

// GetItemsSnapshot returns the known items among ids. Unknown ids are left out.
func (c *Catalog) GetItemsSnapshot(ctx context.Context, ids []string) (map[string]models.MenuItemSnapshot, error) {
	out := make(map[string]models.MenuItemSnapshot, len(ids))
	for _, id := range ids {
		if it, ok := c.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

// Items returns every item known to the catalog, ordered by id.
func (c *Catalog) Items() []models.MenuItemSnapshot {
	out := make([]models.MenuItemSnapshot, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
