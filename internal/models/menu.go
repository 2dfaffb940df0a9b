package models

import "github.com/uptrace/bun"

// MenuItemSnapshot is the catalog view needed to price an order line.
type MenuItemSnapshot struct {
	bun.BaseModel `bun:"table:menu_items"`

	ID         string `json:"id" yaml:"id" bun:"id,pk,type:varchar(64)"`
	Name       string `json:"name" yaml:"name" bun:"name,notnull"`
	PriceCents int64  `json:"priceCents" yaml:"priceCents" bun:"price_cents,notnull"`
}
