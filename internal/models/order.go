package models

import (
	"time"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderClosed    OrderStatus = "closed"
)

func (s OrderStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentCancelled:
		return true
	}
	return false
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// DiscountSpec describes a requested discount. For percentage discounts
// Value is in percent (10 means 10%); for fixed discounts it is in cents.
type DiscountSpec struct {
	Code  string       `json:"code,omitempty"`
	Name  string       `json:"name,omitempty"`
	Type  DiscountType `json:"type" binding:"required,oneof=percentage fixed"`
	Value float64      `json:"value" binding:"gte=0"`
}

type AppliedDiscount struct {
	Code        string       `json:"code,omitempty"`
	Name        string       `json:"name,omitempty"`
	Type        DiscountType `json:"type"`
	Value       float64      `json:"value"`
	BaseCents   int64        `json:"baseCents"`
	AmountCents int64        `json:"amountCents"`
	ResultCents int64        `json:"resultCents"`
}

// TaxSpec is a requested tax. Exactly one of Rate (a fraction, 0.21 for 21%)
// or AmountCents is expected; a spec with neither is ignored.
type TaxSpec struct {
	Code        string   `json:"code,omitempty"`
	Name        string   `json:"name,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
	AmountCents *int64   `json:"amountCents,omitempty"`
}

type AppliedTax struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Rate          *float64 `json:"rate,omitempty"`
	AmountCents   *int64   `json:"amountCents,omitempty"`
	ComputedCents int64    `json:"computedCents"`
}

type Modifier struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
}

type OrderItemInput struct {
	MenuItemID string        `json:"menuItemId"`
	Quantity   int           `json:"quantity"`
	Modifiers  []Modifier    `json:"modifiers,omitempty"`
	Discount   *DiscountSpec `json:"discount,omitempty"`
	Notes      string        `json:"notes,omitempty"`
}

type OrderItem struct {
	MenuItemID      string           `json:"menuItemId"`
	Name            string           `json:"name"`
	Quantity        int              `json:"quantity"`
	UnitPriceCents  int64            `json:"unitPriceCents"`
	Modifiers       []Modifier       `json:"modifiers,omitempty"`
	Discount        *DiscountSpec    `json:"discount,omitempty"`
	AppliedDiscount *AppliedDiscount `json:"appliedDiscount,omitempty"`
	BaseCents       int64            `json:"baseCents"`
	TotalCents      int64            `json:"totalCents"`
	Notes           string           `json:"notes,omitempty"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" binding:"omitempty,email"`
	Phone string `json:"phone,omitempty"`
}

type Order struct {
	ID                  string            `json:"id"`
	TableID             string            `json:"tableId"`
	TableNumber         string            `json:"tableNumber,omitempty"`
	SessionID           string            `json:"sessionId,omitempty"`
	Customer            *Customer         `json:"customer,omitempty"`
	Items               []OrderItem       `json:"items"`
	Discounts           []DiscountSpec    `json:"discounts,omitempty"`
	AppliedDiscounts    []AppliedDiscount `json:"appliedDiscounts,omitempty"`
	Taxes               []TaxSpec         `json:"taxes,omitempty"`
	AppliedTaxes        []AppliedTax      `json:"appliedTaxes"`
	TipCents            int64             `json:"tipCents"`
	ServiceChargeCents  int64             `json:"serviceChargeCents"`
	SubtotalCents       int64             `json:"subtotalCents"`
	DiscountCents       int64             `json:"discountCents"`
	TaxCents            int64             `json:"taxCents"`
	TotalCents          int64             `json:"totalCents"`
	Status              OrderStatus       `json:"status"`
	PaymentStatus       PaymentStatus     `json:"paymentStatus"`
	PaymentPreferenceID string            `json:"paymentPreferenceId,omitempty"`
	CheckoutURL         string            `json:"checkoutUrl,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	ClosedAt            *time.Time        `json:"closedAt,omitempty"`
}

type CreateOrderRequest struct {
	TableID            string           `json:"tableId"`
	SessionID          string           `json:"sessionId,omitempty"`
	Customer           *Customer        `json:"customer,omitempty"`
	Items              []OrderItemInput `json:"items"`
	Discounts          []DiscountSpec   `json:"discounts,omitempty"`
	Taxes              []TaxSpec        `json:"taxes,omitempty"`
	TipCents           int64            `json:"tipCents,omitempty"`
	ServiceChargeCents int64            `json:"serviceChargeCents,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	Actor              string           `json:"actor,omitempty"`
}

// CreateOrderResult is returned once the order is committed. TableSyncError
// is set when the follow-up table status update failed; the order stands.
type CreateOrderResult struct {
	Order          *Order   `json:"order"`
	Table          *Table   `json:"table,omitempty"`
	TableSyncError error    `json:"-"`
	Warnings       []string `json:"warnings,omitempty"`
}

type OrderSort string

const (
	SortNewest OrderSort = "newest"
	SortOldest OrderSort = "oldest"
)

type OrderFilters struct {
	Statuses      []OrderStatus
	PaymentStatus PaymentStatus
	TableID       string
	Search        string
	Sort          OrderSort
	Limit         int
}

type OrdersSummary struct {
	Total           int                   `json:"total"`
	ByStatus        map[OrderStatus]int   `json:"byStatus"`
	ByPaymentStatus map[PaymentStatus]int `json:"byPaymentStatus"`
	PendingPayment  int                   `json:"pendingPayment"`
	OldestAt        *time.Time            `json:"oldestAt,omitempty"`
	NewestAt        *time.Time            `json:"newestAt,omitempty"`
	GrossCents      int64                 `json:"grossCents"`
}

type OrderStatusUpdate struct {
	Status OrderStatus `json:"status" binding:"required"`
	Actor  string      `json:"actor,omitempty"`
}

type PaymentStatusUpdate struct {
	PaymentStatus PaymentStatus `json:"paymentStatus" binding:"required"`
	Actor         string        `json:"actor,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type InventoryRecord struct {
	MenuItemID string    `json:"menuItemId"`
	Stock      int       `json:"stock"`
	MinStock   int       `json:"minStock"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type StockUpdate struct {
	Stock    *int `json:"stock" binding:"required,min=0"`
	MinStock *int `json:"minStock,omitempty" binding:"omitempty,min=0"`
}

// OrderStoreData is the entity set persisted by the order store. Orders are
// kept newest first.
type OrderStoreData struct {
	Orders    []Order           `json:"orders"`
	Inventory []InventoryRecord `json:"inventory"`
}

func (d *OrderStoreData) FindOrder(id string) (int, *Order) {
	for i := range d.Orders {
		if d.Orders[i].ID == id {
			return i, &d.Orders[i]
		}
	}
	return -1, nil
}

func (d *OrderStoreData) FindInventory(menuItemID string) *InventoryRecord {
	for i := range d.Inventory {
		if d.Inventory[i].MenuItemID == menuItemID {
			return &d.Inventory[i]
		}
	}
	return nil
}
