package models

import "time"

type SessionStatus string

const (
	SessionPending          SessionStatus = "pending"
	SessionBrowsing         SessionStatus = "browsing"
	SessionCartActive       SessionStatus = "cart_active"
	SessionOrderPlaced      SessionStatus = "order_placed"
	SessionAwaitingPayment  SessionStatus = "awaiting_payment"
	SessionPaymentCompleted SessionStatus = "payment_completed"
	SessionClosed           SessionStatus = "closed"
	SessionExpired          SessionStatus = "expired"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionClosed || s == SessionExpired
}

type QRSession struct {
	ID             string         `json:"id"`
	TableID        string         `json:"tableId"`
	TableNumber    string         `json:"tableNumber"`
	Zone           string         `json:"zone,omitempty"`
	Token          string         `json:"token"`
	Status         SessionStatus  `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	ClosedAt       *time.Time     `json:"closedAt,omitempty"`
	CartItemsCount int            `json:"cartItemsCount"`
	OrderIDs       []string       `json:"orderIds"`
	IPAddress      string         `json:"ipAddress,omitempty"`
	UserAgent      string         `json:"userAgent,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *QRSession) HasOrder(orderID string) bool {
	for _, id := range s.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

type SessionStoreData struct {
	Sessions []QRSession `json:"sessions"`
}

func (d *SessionStoreData) FindSession(id string) (int, *QRSession) {
	for i := range d.Sessions {
		if d.Sessions[i].ID == id {
			return i, &d.Sessions[i]
		}
	}
	return -1, nil
}

type CreateSessionRequest struct {
	Token    string         `json:"token" binding:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type SessionUpdate struct {
	Status         *SessionStatus `json:"status,omitempty"`
	CartItemsCount *int           `json:"cartItemsCount,omitempty" binding:"omitempty,min=0"`
	OrderID        string         `json:"orderId,omitempty"`
	Extend         bool           `json:"extend,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type CleanupOptions struct {
	// OlderThan removes sessions whose last activity is older than now-OlderThan.
	OlderThan time.Duration `json:"olderThan,omitempty"`
	// Statuses restricts removal to these statuses. Empty means closed and expired.
	Statuses []SessionStatus `json:"statuses,omitempty"`
	// IncludeExpired also removes sessions whose expiresAt has passed,
	// regardless of status.
	IncludeExpired bool `json:"includeExpired,omitempty"`
	DryRun         bool `json:"dryRun,omitempty"`
}

type CleanupResult struct {
	DryRun  bool     `json:"dryRun"`
	Removed []string `json:"removed"`
	Count   int      `json:"count"`
}
