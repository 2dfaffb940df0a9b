package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"table-service/internal/catalog"
	"table-service/internal/events"
	"table-service/internal/floor"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/qrtoken"
	"table-service/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// switchableBackend fails every Persist while fail is set and calls
// afterPersist after every successful write.
type switchableBackend struct {
	*storage.InMemoryStore
	mu           sync.Mutex
	fail         bool
	afterPersist func()
}

func (b *switchableBackend) onPersist(fn func()) {
	b.mu.Lock()
	b.afterPersist = fn
	b.mu.Unlock()
}

func (b *switchableBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *switchableBackend) Persist(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	fail, after := b.fail, b.afterPersist
	b.mu.Unlock()
	if fail {
		return errors.New("write refused")
	}
	if err := b.InMemoryStore.Persist(ctx, key, data); err != nil {
		return err
	}
	if after != nil {
		after()
	}
	return nil
}

type testEnv struct {
	clock      *fakeClock
	bus        *events.Bus
	qr         *qrtoken.Manager
	tableDisk  *switchableBackend
	disk       *switchableBackend
	tables     *TableService
	orders     *OrderService
	sessions   *SessionService
	orderStore *OrderStore
}

type envOptions struct {
	stock      int
	qrTTL      time.Duration
	sessionTTL time.Duration
}

var testMenu = []models.MenuItemSnapshot{
	{ID: "pizza", Name: "Margherita", PriceCents: 1000},
	{ID: "cola", Name: "Cola", PriceCents: 250},
	{ID: "salad", Name: "Caesar", PriceCents: 890},
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.stock == 0 {
		opts.stock = 100
	}
	if opts.qrTTL == 0 {
		opts.qrTTL = 24 * time.Hour
	}
	if opts.sessionTTL == 0 {
		opts.sessionTTL = 30 * time.Minute
	}

	ctx := context.Background()
	log := logger.NewNop()
	clock := newFakeClock()

	bus := events.NewBus(events.DefaultHistorySize, 256, log)
	t.Cleanup(bus.Close)

	tableDisk := &switchableBackend{InMemoryStore: storage.NewInMemoryStore()}
	disk := &switchableBackend{InMemoryStore: storage.NewInMemoryStore()}

	tableStore := NewTableStore(tableDisk, "test", log)
	orderStore := NewOrderStore(disk, "test", log)
	sessionStore := NewSessionStore(disk, "test", log)
	for _, s := range []interface{ Initialize(context.Context) error }{tableStore, orderStore, sessionStore} {
		require.NoError(t, s.Initialize(ctx))
	}
	t.Cleanup(tableStore.Close)
	t.Cleanup(orderStore.Close)
	t.Cleanup(sessionStore.Close)

	qr := qrtoken.NewManager("test-secret-123", opts.qrTTL).WithClock(clock.Now)
	machine := floor.NewMachine(nil, 0).WithClock(clock.Now)

	tables := NewTableService(tableStore, machine, qr, bus, log)
	tables.now = clock.Now

	sessions := NewSessionService(sessionStore, tables, qr, bus, log, SessionConfig{TTL: opts.sessionTTL, Extension: 15 * time.Minute})
	sessions.now = clock.Now

	orders := NewOrderService(orderStore, tables, sessions, catalog.New(testMenu), bus, log, OrderConfig{
		DefaultStock:    opts.stock,
		DefaultMinStock: 2,
	})
	orders.now = clock.Now

	_, err := tables.ProvisionTables(ctx, []models.TableSeed{
		{ID: "T1", Number: "1", Zone: "terrace"},
		{ID: "T2", Number: "2", Zone: "hall"},
	})
	require.NoError(t, err)

	return &testEnv{
		clock:      clock,
		bus:        bus,
		qr:         qr,
		tableDisk:  tableDisk,
		disk:       disk,
		tables:     tables,
		orders:     orders,
		sessions:   sessions,
		orderStore: orderStore,
	}
}

func orderFor(tableID string, items ...models.OrderItemInput) models.CreateOrderRequest {
	return models.CreateOrderRequest{TableID: tableID, Items: items}
}

func line(id string, qty int) models.OrderItemInput {
	return models.OrderItemInput{MenuItemID: id, Quantity: qty}
}

func intPtr(n int) *int { return &n }

func (e *testEnv) stockOf(t *testing.T, id string) int {
	t.Helper()
	inv, err := e.orders.ListInventory(context.Background())
	require.NoError(t, err)
	for _, rec := range inv {
		if rec.MenuItemID == id {
			return rec.Stock
		}
	}
	t.Fatalf("no inventory record for %s", id)
	return 0
}
