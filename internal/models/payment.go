package models

import (
	"time"
)

// Payment statuses reported by the payment gateway on its Kafka topics.
type GatewayPaymentStatus string

const (
	GatewayPending   GatewayPaymentStatus = "pending"
	GatewaySuccess   GatewayPaymentStatus = "success"
	GatewayFailed    GatewayPaymentStatus = "failed"
	GatewayRefunded  GatewayPaymentStatus = "refunded"
	GatewayCancelled GatewayPaymentStatus = "cancelled"
)

type Payment struct {
	PaymentID string               `json:"payment_id"`
	OrderID   string               `json:"order_id"`
	Status    GatewayPaymentStatus `json:"status"`
	Price     float64              `json:"price"`
	Date      time.Time            `json:"date"`
}

type PaymentEvent struct {
	Type      string    `json:"type"`
	PaymentID string    `json:"payment_id"`
	Payment   *Payment  `json:"payment"`
	Timestamp time.Time `json:"timestamp"`
}

type PreferenceRequest struct {
	OrderID       string
	TableNumber   string
	Description   string
	AmountCents   int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Metadata      map[string]string
}

// PaymentPreference is what the payment provider hands back: an id and the
// URL the customer is redirected to.
type PaymentPreference struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	CheckoutURL string    `json:"checkoutUrl"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CheckoutRequest struct {
	Customer *Customer `json:"customer,omitempty"`
}

type CheckoutResult struct {
	Order      *Order             `json:"order"`
	Preference *PaymentPreference `json:"preference"`
	Table      *Table             `json:"table,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}
