package services

import (
	"context"
	"time"

	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/qrtoken"
	"table-service/internal/snapshot"
	"table-service/internal/storage"
)

// QRValidator checks table QR tokens.
type QRValidator interface {
	Validate(token string) (*qrtoken.Claims, error)
	IsTokenExpired(token string) bool
}

// QRIssuer signs new table QR tokens.
type QRIssuer interface {
	Issue(tableID, tableNumber, zone string) (string, time.Time, error)
}

// MenuCatalog resolves menu item ids to their current name and price.
// Unknown ids are absent from the result.
type MenuCatalog interface {
	GetItemsSnapshot(ctx context.Context, ids []string) (map[string]models.MenuItemSnapshot, error)
}

// PreferenceCreator asks the payment provider for a hosted checkout.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, req *models.PreferenceRequest) (*models.PaymentPreference, error)
}

// CheckoutLock guards an order against concurrent checkouts.
type CheckoutLock interface {
	AcquireCheckout(ctx context.Context, orderID, owner string) (bool, error)
	ReleaseCheckout(ctx context.Context, orderID, owner string) error
}

type EventPublisher interface {
	Publish(eventType string, payload any) events.Envelope
}

type (
	TableStore   = snapshot.Store[models.TableStoreData]
	OrderStore   = snapshot.Store[models.OrderStoreData]
	SessionStore = snapshot.Store[models.SessionStoreData]
)

func NewTableStore(backend storage.Backend, prefix string, log *logger.Logger) *TableStore {
	return snapshot.New("tables", backend, func() models.TableStoreData {
		return models.TableStoreData{
			Tables:  []models.Table{},
			History: []models.TableHistoryEntry{},
			Layout:  models.FloorLayout{Zones: []string{}, Positions: []models.TablePosition{}},
		}
	}, log, snapshot.Options{Key: storage.Key(prefix, "tables")})
}

func NewOrderStore(backend storage.Backend, prefix string, log *logger.Logger) *OrderStore {
	return snapshot.New("orders", backend, func() models.OrderStoreData {
		return models.OrderStoreData{Orders: []models.Order{}, Inventory: []models.InventoryRecord{}}
	}, log, snapshot.Options{Key: storage.Key(prefix, "orders")})
}

func NewSessionStore(backend storage.Backend, prefix string, log *logger.Logger) *SessionStore {
	return snapshot.New("sessions", backend, func() models.SessionStoreData {
		return models.SessionStoreData{Sessions: []models.QRSession{}}
	}, log, snapshot.Options{Key: storage.Key(prefix, "sessions")})
}
