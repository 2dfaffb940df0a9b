package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/pricing"
	"table-service/internal/snapshot"
	"table-service/internal/utils"
)

// SessionLinker records placed orders on the customer's QR session.
type SessionLinker interface {
	AttachOrder(ctx context.Context, sessionID, orderID string) error
}

type OrderConfig struct {
	OrderableStatuses []models.TableStatus
	TaxDefault        pricing.TaxDefault
	DefaultStock      int
	DefaultMinStock   int
}

type OrderService struct {
	store    *OrderStore
	tables   *TableService
	sessions SessionLinker
	catalog  MenuCatalog
	bus      EventPublisher
	log      *logger.Logger
	cfg      OrderConfig

	orderable map[models.TableStatus]bool
	now       func() time.Time

	// tables whose post-order status sync failed, retried by ReconcileTableSync
	syncMu      sync.Mutex
	pendingSync map[string]string
}

func NewOrderService(store *OrderStore, tables *TableService, sessions SessionLinker, catalog MenuCatalog, bus EventPublisher, log *logger.Logger, cfg OrderConfig) *OrderService {
	if len(cfg.OrderableStatuses) == 0 {
		cfg.OrderableStatuses = []models.TableStatus{
			models.TableFree, models.TableOccupied, models.TableOrderInProgress, models.TableAccountRequested,
		}
	}
	if cfg.TaxDefault.Code == "" {
		cfg.TaxDefault = pricing.StandardTax
	}
	orderable := make(map[models.TableStatus]bool, len(cfg.OrderableStatuses))
	for _, st := range cfg.OrderableStatuses {
		orderable[st] = true
	}
	return &OrderService{
		store:       store,
		tables:      tables,
		sessions:    sessions,
		catalog:     catalog,
		bus:         bus,
		log:         log,
		cfg:         cfg,
		orderable:   orderable,
		now:         time.Now,
		pendingSync: make(map[string]string),
	}
}

func orderNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeOrderNotFound, fmt.Sprintf("order %s not found", id), id)
}

func validateCreateOrder(req *models.CreateOrderRequest) error {
	if strings.TrimSpace(req.TableID) == "" {
		return apperrors.Validation("tableId", "table id is required")
	}
	if len(req.Items) == 0 {
		return apperrors.Validation("items", "order must contain at least one item")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.MenuItemID) == "" {
			return apperrors.Validation(fmt.Sprintf("items[%d].menuItemId", i), "menu item reference is required")
		}
		if it.Quantity < 1 {
			return apperrors.Validation(fmt.Sprintf("items[%d].quantity", i), "quantity must be at least 1").
				With("menuItemId", it.MenuItemID)
		}
		if it.Discount != nil {
			if err := validateDiscount(fmt.Sprintf("items[%d].discount", i), *it.Discount); err != nil {
				return err
			}
		}
	}
	for i, d := range req.Discounts {
		if err := validateDiscount(fmt.Sprintf("discounts[%d]", i), d); err != nil {
			return err
		}
	}
	return nil
}

func validateDiscount(field string, d models.DiscountSpec) error {
	if d.Type != models.DiscountPercentage && d.Type != models.DiscountFixed {
		return apperrors.Validation(field+".type", "discount type must be percentage or fixed")
	}
	if d.Value < 0 {
		return apperrors.Validation(field+".value", "discount value cannot be negative")
	}
	return nil
}

type reservation struct {
	order    models.Order
	lowStock []models.InventoryRecord
	touched  []models.InventoryRecord
}

// CreateOrder validates, prices and commits an order, reserving stock for
// every line in the same mutation. The table is synchronized afterwards; a
// failure there is reported on the result and does not undo the order.
func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.CreateOrderResult, error) {
	if err := validateCreateOrder(&req); err != nil {
		return nil, err
	}

	table, err := s.tables.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	if !s.orderable[table.Status] {
		return nil, apperrors.Conflict(apperrors.CodeTableStateConflict,
			fmt.Sprintf("table %s is %s and cannot take orders", table.Number, table.Status)).
			With("tableId", table.ID).
			With("status", string(table.Status))
	}

	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for _, it := range req.Items {
		if !seen[it.MenuItemID] {
			seen[it.MenuItemID] = true
			ids = append(ids, it.MenuItemID)
		}
	}
	menu, err := s.catalog.GetItemsSnapshot(ctx, ids)
	if err != nil {
		s.log.Error("ORDER", fmt.Sprintf("Menu catalog lookup failed: %v", err))
		return nil, apperrors.External(apperrors.CodeCatalogUnavailable, "menu catalog unavailable", err)
	}
	for _, id := range ids {
		if _, ok := menu[id]; !ok {
			return nil, apperrors.NotFound(apperrors.CodeMenuItemNotFound, fmt.Sprintf("menu item %s not found", id), id)
		}
	}

	lines := make([]pricing.Line, 0, len(req.Items))
	for _, it := range req.Items {
		m := menu[it.MenuItemID]
		lines = append(lines, pricing.Line{Item: it, Name: m.Name, UnitPriceCents: m.PriceCents})
	}
	totals := pricing.ComputeOrder(lines, req.Discounts, req.Taxes, req.TipCents, req.ServiceChargeCents, s.cfg.TaxDefault)

	requested := make(map[string]int, len(ids))
	for _, it := range req.Items {
		requested[it.MenuItemID] += it.Quantity
	}

	res, err := snapshot.Apply(ctx, s.store, "create_order", func(d *snapshot.Data[models.OrderStoreData]) (reservation, error) {
		now := s.now().UTC()
		var out reservation

		// check every line before touching anything
		for _, id := range ids {
			rec := s.inventoryFor(d, id, now)
			if rec.Stock < requested[id] {
				return out, apperrors.Conflict(apperrors.CodeStockInsufficient,
					fmt.Sprintf("Insufficient stock for %s: available %d, requested %d", id, rec.Stock, requested[id])).
					With("menuItemId", id).
					With("available", rec.Stock).
					With("requested", requested[id])
			}
		}
		for _, id := range ids {
			rec := d.Entities.FindInventory(id)
			before := rec.Stock
			rec.Stock -= requested[id]
			rec.UpdatedAt = now
			out.touched = append(out.touched, *rec)
			if before > rec.MinStock && rec.Stock <= rec.MinStock {
				out.lowStock = append(out.lowStock, *rec)
			}
		}

		order := models.Order{
			ID:            utils.GenerateOrderID(d.NextSequence()),
			TableID:       table.ID,
			TableNumber:   table.Number,
			SessionID:     req.SessionID,
			Customer:      req.Customer,
			Discounts:     req.Discounts,
			Taxes:         req.Taxes,
			Status:        models.OrderOpen,
			PaymentStatus: models.PaymentPending,
			Notes:         req.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		totals.Apply(&order)

		d.Entities.Orders = append([]models.Order{order}, d.Entities.Orders...)
		out.order = order
		return out, nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeStockInsufficient) {
			s.log.Warn("ORDER", fmt.Sprintf("Order for table %s rejected: %v", req.TableID, err))
		} else {
			s.log.Error("ORDER", fmt.Sprintf("Failed to create order for table %s: %v", req.TableID, err))
		}
		return nil, err
	}

	order := res.order
	s.log.LogOrder("CREATE", order.ID, fmt.Sprintf("Order created for table %s, total %d cents", order.TableNumber, order.TotalCents))

	// the order is committed; follow-ups run even if the caller has gone away
	ctx = context.WithoutCancel(ctx)

	result := &models.CreateOrderResult{Order: &order}

	actor := req.Actor
	if actor == "" {
		actor = "order-service"
	}
	synced, err := s.tables.SyncForOrder(ctx, order.TableID, actor)
	if err != nil {
		s.log.Warn("ORDER", fmt.Sprintf("Order %s committed but table %s sync failed: %v", order.ID, order.TableID, err))
		s.rememberSync(order.TableID, actor)
		result.TableSyncError = apperrors.External(apperrors.CodeTableUpdateFailed, "table status update failed", err).
			With("tableId", order.TableID).
			With("orderId", order.ID)
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", apperrors.CodeTableUpdateFailed, err))
	} else {
		result.Table = synced
	}

	s.bus.Publish(events.OrderCreated, order)
	for _, rec := range res.touched {
		s.bus.Publish(events.InventoryUpdated, rec)
	}
	for _, rec := range res.lowStock {
		s.log.Warn("INVENTORY", fmt.Sprintf("Low stock for %s: %d left (min %d)", rec.MenuItemID, rec.Stock, rec.MinStock))
		s.bus.Publish(events.InventoryLowStock, rec)
	}
	s.publishSummary(ctx)

	if req.SessionID != "" && s.sessions != nil {
		if err := s.sessions.AttachOrder(ctx, req.SessionID, order.ID); err != nil {
			s.log.Warn("ORDER", fmt.Sprintf("Could not link order %s to session %s: %v", order.ID, req.SessionID, err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("session link failed: %v", err))
		}
	}

	return result, nil
}

func (s *OrderService) rememberSync(tableID, actor string) {
	s.syncMu.Lock()
	s.pendingSync[tableID] = actor
	s.syncMu.Unlock()
}

// ReconcileTableSync retries table syncs that failed after an order was
// committed. Tables with no open order anymore are dropped from the list.
func (s *OrderService) ReconcileTableSync(ctx context.Context) (int, error) {
	s.syncMu.Lock()
	pending := make(map[string]string, len(s.pendingSync))
	for k, v := range s.pendingSync {
		pending[k] = v
	}
	s.syncMu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	d, err := s.store.Read()
	if err != nil {
		return 0, err
	}
	open := make(map[string]bool)
	for _, o := range d.Entities.Orders {
		if o.Status != models.OrderClosed && o.PaymentStatus == models.PaymentPending {
			open[o.TableID] = true
		}
	}

	fixed := 0
	for tableID, actor := range pending {
		if ctx.Err() != nil {
			return fixed, ctx.Err()
		}
		if open[tableID] {
			_, err := s.tables.ResyncForOrder(ctx, tableID, actor)
			switch {
			case apperrors.HasCode(err, apperrors.CodeTableStateConflict):
				s.log.Warn("ORDER", fmt.Sprintf("Table %s moved on since the failed sync, dropping retry: %v", tableID, err))
			case err != nil:
				s.log.Warn("ORDER", fmt.Sprintf("Table %s still out of sync: %v", tableID, err))
				continue
			default:
				fixed++
				s.log.LogTable("RECONCILE", tableID, "Table status synchronized after earlier failure")
			}
		}
		s.syncMu.Lock()
		delete(s.pendingSync, tableID)
		s.syncMu.Unlock()
	}
	return fixed, nil
}

// PendingTableSyncs lists tables waiting for a status sync retry.
func (s *OrderService) PendingTableSyncs() []string {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	out := make([]string, 0, len(s.pendingSync))
	for id := range s.pendingSync {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	_, o := d.Entities.FindOrder(id)
	if o == nil {
		return nil, orderNotFound(id)
	}
	return o, nil
}

func matchesOrder(o *models.Order, f models.OrderFilters, statuses map[models.OrderStatus]bool, search string) bool {
	if len(statuses) > 0 && !statuses[o.Status] {
		return false
	}
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.TableID != "" && o.TableID != f.TableID {
		return false
	}
	if search == "" {
		return true
	}

	fields := []string{o.ID, o.TableID, o.TableNumber, o.Notes}
	if o.Customer != nil {
		fields = append(fields, o.Customer.Name, o.Customer.Email, o.Customer.Phone)
	}
	for _, it := range o.Items {
		fields = append(fields, it.Name, it.MenuItemID)
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func filterOrders(orders []models.Order, f models.OrderFilters) []models.Order {
	statuses := make(map[models.OrderStatus]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := []models.Order{}
	for i := range orders {
		if matchesOrder(&orders[i], f, statuses, search) {
			out = append(out, orders[i])
		}
	}

	if f.Sort == models.SortOldest {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return out
}

func (s *OrderService) ListOrders(ctx context.Context, f models.OrderFilters) ([]models.Order, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	out := filterOrders(d.Entities.Orders, f)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func summarize(orders []models.Order) models.OrdersSummary {
	sum := models.OrdersSummary{
		Total:           len(orders),
		ByStatus:        map[models.OrderStatus]int{},
		ByPaymentStatus: map[models.PaymentStatus]int{},
	}
	for i := range orders {
		o := &orders[i]
		sum.ByStatus[o.Status]++
		sum.ByPaymentStatus[o.PaymentStatus]++
		if o.PaymentStatus == models.PaymentPending && o.Status != models.OrderClosed {
			sum.PendingPayment++
		}
		if o.PaymentStatus != models.PaymentCancelled {
			sum.GrossCents += o.TotalCents
		}
		created := o.CreatedAt
		if sum.OldestAt == nil || created.Before(*sum.OldestAt) {
			sum.OldestAt = &created
		}
		if sum.NewestAt == nil || created.After(*sum.NewestAt) {
			sum.NewestAt = &created
		}
	}
	return sum
}

func (s *OrderService) GetOrdersSummary(ctx context.Context, f models.OrderFilters) (*models.OrdersSummary, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	sum := summarize(filterOrders(d.Entities.Orders, f))
	return &sum, nil
}

func (s *OrderService) publishSummary(ctx context.Context) {
	sum, err := s.GetOrdersSummary(ctx, models.OrderFilters{})
	if err != nil {
		s.log.Warn("ORDER", fmt.Sprintf("Could not compute orders summary: %v", err))
		return
	}
	s.bus.Publish(events.OrdersSummaryUpdated, sum)
}

var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderOpen:      {models.OrderPreparing, models.OrderClosed},
	models.OrderPreparing: {models.OrderReady, models.OrderClosed},
	models.OrderReady:     {models.OrderDelivered, models.OrderClosed},
	models.OrderDelivered: {models.OrderClosed},
	models.OrderClosed:    {},
}

func orderTransitionAllowed(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// mutateOrder runs fn against one order inside the store queue. fn reports
// whether it changed anything.
func (s *OrderService) mutateOrder(ctx context.Context, op, id string, fn func(d *snapshot.Data[models.OrderStoreData], o *models.Order, now time.Time) (bool, error)) (*models.Order, bool, error) {
	type result struct {
		order   models.Order
		changed bool
	}
	res, err := snapshot.Apply(ctx, s.store, op, func(d *snapshot.Data[models.OrderStoreData]) (result, error) {
		_, o := d.Entities.FindOrder(id)
		if o == nil {
			return result{}, orderNotFound(id)
		}
		now := s.now().UTC()
		changed, err := fn(d, o, now)
		if err != nil {
			return result{}, err
		}
		if changed {
			o.UpdatedAt = now
		}
		return result{order: *o, changed: changed}, nil
	})
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeOrderNotFound) {
			s.log.Error("ORDER", fmt.Sprintf("Operation %s on order %s failed: %v", op, id, err))
		}
		return nil, false, err
	}
	return &res.order, res.changed, nil
}

func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, upd models.OrderStatusUpdate) (*models.Order, error) {
	if _, known := orderTransitions[upd.Status]; !known {
		return nil, apperrors.Validation("status", fmt.Sprintf("unknown order status %q", upd.Status))
	}

	o, changed, err := s.mutateOrder(ctx, "update_status", id, func(_ *snapshot.Data[models.OrderStoreData], o *models.Order, now time.Time) (bool, error) {
		if o.Status == upd.Status {
			return false, nil
		}
		if !orderTransitionAllowed(o.Status, upd.Status) {
			return false, apperrors.InvalidTransition("order", string(o.Status), string(upd.Status)).With("orderId", o.ID)
		}
		o.Status = upd.Status
		if upd.Status == models.OrderClosed {
			o.ClosedAt = &now
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.LogOrder("STATUS", id, fmt.Sprintf("Order moved to %s", o.Status))
		s.bus.Publish(events.OrderUpdated, o)
		s.publishSummary(ctx)
	}
	return o, nil
}

func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id string, upd models.PaymentStatusUpdate) (*models.Order, error) {
	if !upd.PaymentStatus.Valid() {
		return nil, apperrors.Validation("paymentStatus", fmt.Sprintf("unknown payment status %q", upd.PaymentStatus))
	}

	o, changed, err := s.mutateOrder(ctx, "update_payment_status", id, func(_ *snapshot.Data[models.OrderStoreData], o *models.Order, now time.Time) (bool, error) {
		if o.PaymentStatus == upd.PaymentStatus {
			return false, nil
		}
		o.PaymentStatus = upd.PaymentStatus
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.LogOrder("PAYMENT", id, fmt.Sprintf("Payment status set to %s", o.PaymentStatus))
		s.bus.Publish(events.PaymentStatusUpdated, o)
		s.bus.Publish(events.OrderUpdated, o)
		s.publishSummary(ctx)
	}
	return o, nil
}

// CancelOrder closes an unpaid order, marks its payment cancelled and puts
// the reserved stock back.
func (s *OrderService) CancelOrder(ctx context.Context, id string, req models.CancelOrderRequest) (*models.Order, error) {
	var released []models.InventoryRecord
	o, _, err := s.mutateOrder(ctx, "cancel_order", id, func(d *snapshot.Data[models.OrderStoreData], o *models.Order, now time.Time) (bool, error) {
		if o.PaymentStatus == models.PaymentPaid {
			return false, apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, "a paid order cannot be cancelled").With("orderId", o.ID)
		}
		if o.Status == models.OrderClosed {
			return false, apperrors.Conflict(apperrors.CodeOrderClosed, "order is already closed").With("orderId", o.ID)
		}

		released = released[:0]
		for _, it := range o.Items {
			rec := s.inventoryFor(d, it.MenuItemID, now)
			rec.Stock += it.Quantity
			rec.UpdatedAt = now
		}
		for _, it := range o.Items {
			if rec := d.Entities.FindInventory(it.MenuItemID); rec != nil && !containsRecord(released, rec.MenuItemID) {
				released = append(released, *rec)
			}
		}

		o.Status = models.OrderClosed
		o.PaymentStatus = models.PaymentCancelled
		o.ClosedAt = &now
		if req.Reason != "" {
			if o.Notes != "" {
				o.Notes += "\n"
			}
			o.Notes += "cancelled: " + req.Reason
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.LogOrder("CANCEL", id, fmt.Sprintf("Order cancelled by %q, %d stock records released", req.Actor, len(released)))
	s.bus.Publish(events.OrderCancelled, o)
	for _, rec := range released {
		s.bus.Publish(events.InventoryUpdated, rec)
	}
	s.publishSummary(ctx)
	return o, nil
}

func containsRecord(recs []models.InventoryRecord, menuItemID string) bool {
	for _, r := range recs {
		if r.MenuItemID == menuItemID {
			return true
		}
	}
	return false
}

// AttachPreference stores the checkout reference on the order.
func (s *OrderService) AttachPreference(ctx context.Context, id string, pref *models.PaymentPreference, customer *models.Customer) (*models.Order, error) {
	o, _, err := s.mutateOrder(ctx, "attach_preference", id, func(_ *snapshot.Data[models.OrderStoreData], o *models.Order, _ time.Time) (bool, error) {
		o.PaymentPreferenceID = pref.ID
		o.CheckoutURL = pref.CheckoutURL
		if customer != nil {
			o.Customer = customer
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.OrderUpdated, o)
	return o, nil
}

// PendingPaymentCount counts orders on a table still waiting for payment.
func (s *OrderService) PendingPaymentCount(ctx context.Context, tableID string) (int, error) {
	return snapshot.View(ctx, s.store, "pending_payment_count", func(d snapshot.Data[models.OrderStoreData]) (int, error) {
		n := 0
		for _, o := range d.Entities.Orders {
			if o.TableID == tableID && o.PaymentStatus == models.PaymentPending && o.Status != models.OrderClosed {
				n++
			}
		}
		return n, nil
	})
}
