package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/floor"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/snapshot"
)

type TableService struct {
	store   *TableStore
	machine *floor.Machine
	qr      QRIssuer
	bus     EventPublisher
	log     *logger.Logger
	now     func() time.Time
}

func NewTableService(store *TableStore, machine *floor.Machine, qr QRIssuer, bus EventPublisher, log *logger.Logger) *TableService {
	return &TableService{
		store:   store,
		machine: machine,
		qr:      qr,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

func tableNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeTableNotFound, fmt.Sprintf("table %s not found", id), id)
}

func (s *TableService) ListTables(ctx context.Context) ([]models.Table, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	tables := d.Entities.Tables
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Number < tables[j].Number })
	return tables, nil
}

func (s *TableService) GetTable(ctx context.Context, id string) (*models.Table, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	_, t := d.Entities.FindTable(id)
	if t == nil {
		return nil, tableNotFound(id)
	}
	return t, nil
}

// ProvisionTables adds every seed whose id is not known yet. Existing tables
// are left untouched. It returns the tables that were created.
func (s *TableService) ProvisionTables(ctx context.Context, seeds []models.TableSeed) ([]models.Table, error) {
	for _, seed := range seeds {
		if strings.TrimSpace(seed.ID) == "" {
			return nil, apperrors.Validation("id", "table id is required")
		}
		if strings.TrimSpace(seed.Number) == "" {
			return nil, apperrors.Validation("number", "table number is required").With("tableId", seed.ID)
		}
	}

	created, err := snapshot.Apply(ctx, s.store, "provision_tables", func(d *snapshot.Data[models.TableStoreData]) ([]models.Table, error) {
		var out []models.Table
		for _, seed := range seeds {
			if _, existing := d.Entities.FindTable(seed.ID); existing != nil {
				continue
			}
			t := s.machine.NewTable(seed)
			d.Entities.Tables = append(d.Entities.Tables, t)
			out = append(out, t)
		}
		return out, nil
	})
	if err != nil {
		s.log.Error("TABLE", fmt.Sprintf("Failed to provision tables: %v", err))
		return nil, err
	}

	for i := range created {
		s.log.LogTable("PROVISION", created[i].ID, fmt.Sprintf("Table %s provisioned", created[i].Number))
		s.bus.Publish(events.TableUpdated, created[i])
	}
	return created, nil
}

// mutateTable runs fn against one table inside the store queue. History
// entries returned by fn are appended to the log.
func (s *TableService) mutateTable(ctx context.Context, op, id string, fn func(t *models.Table) ([]models.TableHistoryEntry, error)) (*models.Table, bool, error) {
	type result struct {
		table   models.Table
		changed bool
	}

	res, err := snapshot.Apply(ctx, s.store, op, func(d *snapshot.Data[models.TableStoreData]) (result, error) {
		_, t := d.Entities.FindTable(id)
		if t == nil {
			return result{}, tableNotFound(id)
		}
		before := t.UpdatedAt
		entries, err := fn(t)
		if err != nil {
			return result{}, err
		}
		d.Entities.History = append(d.Entities.History, entries...)
		return result{table: *t, changed: len(entries) > 0 || !t.UpdatedAt.Equal(before)}, nil
	})
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeTableNotFound) {
			s.log.Error("TABLE", fmt.Sprintf("Operation %s on table %s failed: %v", op, id, err))
		}
		return nil, false, err
	}

	if res.changed {
		s.bus.Publish(events.TableUpdated, res.table)
	}
	return &res.table, res.changed, nil
}

// Transition moves a table along one edge of the floor graph.
func (s *TableService) Transition(ctx context.Context, id string, req models.TransitionRequest) (*models.Table, error) {
	t, changed, err := s.mutateTable(ctx, "transition", id, func(t *models.Table) ([]models.TableHistoryEntry, error) {
		entry, err := s.machine.Transition(t, req.Status, floor.TransitionOptions{
			Actor:  req.Actor,
			Reason: req.Reason,
			Covers: req.Covers,
		})
		if err != nil || entry == nil {
			return nil, err
		}
		return []models.TableHistoryEntry{*entry}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.LogTable("TRANSITION", id, fmt.Sprintf("Table moved to %s", t.Status))
	}
	return t, nil
}

func (s *TableService) SetCovers(ctx context.Context, id string, req models.CoversRequest) (*models.Table, error) {
	if req.Covers == nil {
		return nil, apperrors.Validation("covers", "covers is required")
	}
	t, _, err := s.mutateTable(ctx, "set_covers", id, func(t *models.Table) ([]models.TableHistoryEntry, error) {
		entry := s.machine.SetCurrentCovers(t, *req.Covers, req.Actor, req.Reason)
		if entry == nil {
			return nil, nil
		}
		return []models.TableHistoryEntry{*entry}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.LogTable("COVERS", id, fmt.Sprintf("Current covers set to %d", t.Covers.Current))
	return t, nil
}

func (s *TableService) UpdateMetadata(ctx context.Context, id string, upd models.TableMetadataUpdate) (*models.Table, error) {
	if upd.Number != nil && strings.TrimSpace(*upd.Number) == "" {
		return nil, apperrors.Validation("number", "table number cannot be empty")
	}
	if upd.SeatCount != nil && *upd.SeatCount < 0 {
		return nil, apperrors.Validation("seatCount", "seat count cannot be negative")
	}

	t, _, err := s.mutateTable(ctx, "update_metadata", id, func(t *models.Table) ([]models.TableHistoryEntry, error) {
		if upd.Number != nil {
			t.Number = strings.TrimSpace(*upd.Number)
		}
		if upd.Zone != nil {
			t.Zone = *upd.Zone
		}
		if upd.SeatCount != nil {
			n := *upd.SeatCount
			t.SeatCount = &n
		}
		t.UpdatedAt = s.now().UTC()
		return nil, nil
	})
	return t, err
}

// GetHistory returns the table's history newest first. limit <= 0 means all.
func (s *TableService) GetHistory(ctx context.Context, id string, limit int) ([]models.TableHistoryEntry, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	if _, t := d.Entities.FindTable(id); t == nil {
		return nil, tableNotFound(id)
	}

	out := []models.TableHistoryEntry{}
	for i := len(d.Entities.History) - 1; i >= 0; i-- {
		if d.Entities.History[i].TableID != id {
			continue
		}
		out = append(out, d.Entities.History[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *TableService) GetLayout(ctx context.Context) (*models.FloorLayout, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	return &d.Entities.Layout, nil
}

// UpdateLayout replaces the floor plan. Every position must refer to a known
// table, at most once.
func (s *TableService) UpdateLayout(ctx context.Context, layout models.FloorLayout) (*models.FloorLayout, error) {
	seen := make(map[string]bool, len(layout.Positions))
	for _, p := range layout.Positions {
		if p.TableID == "" {
			return nil, apperrors.Validation("positions.tableId", "position is missing its table id")
		}
		if seen[p.TableID] {
			return nil, apperrors.Validation("positions.tableId", "table placed more than once").With("tableId", p.TableID)
		}
		seen[p.TableID] = true
	}

	out, err := snapshot.Apply(ctx, s.store, "update_layout", func(d *snapshot.Data[models.TableStoreData]) (models.FloorLayout, error) {
		for _, p := range layout.Positions {
			if _, t := d.Entities.FindTable(p.TableID); t == nil {
				return models.FloorLayout{}, tableNotFound(p.TableID)
			}
		}
		now := s.now().UTC()
		next := layout
		if next.Zones == nil {
			next.Zones = []string{}
		}
		if next.Positions == nil {
			next.Positions = []models.TablePosition{}
		}
		next.UpdatedAt = &now
		d.Entities.Layout = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("TABLE", fmt.Sprintf("Floor layout replaced with %d positions", len(out.Positions)))
	s.bus.Publish(events.TableLayoutUpdated, out)
	return &out, nil
}

// RotateQR issues a fresh QR token for the table. Sessions opened with the
// previous token keep working; new scans of it are rejected.
func (s *TableService) RotateQR(ctx context.Context, id string) (*models.Table, error) {
	t, _, err := s.mutateTable(ctx, "rotate_qr", id, func(t *models.Table) ([]models.TableHistoryEntry, error) {
		token, exp, err := s.qr.Issue(t.ID, t.Number, t.Zone)
		if err != nil {
			return nil, apperrors.Internal("failed to issue qr token", err).With("tableId", t.ID)
		}
		t.QRToken = token
		t.QRTokenExpiry = &exp
		t.UpdatedAt = s.now().UTC()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.LogTable("ROTATE_QR", id, fmt.Sprintf("QR token rotated, expires %s", t.QRTokenExpiry.Format(time.RFC3339)))
	return t, nil
}

var (
	orderSyncGuard = floor.ChainGuard{
		From: []models.TableStatus{models.TableFree, models.TableOccupied, models.TableOrderInProgress, models.TableAccountRequested},
	}
	// a late retry must not undo a checkout that happened in the meantime
	resyncGuard = floor.ChainGuard{
		From: []models.TableStatus{models.TableFree, models.TableOccupied, models.TableOrderInProgress},
	}
	accountGuard = floor.ChainGuard{
		From:  []models.TableStatus{models.TableOccupied, models.TableOrderInProgress},
		Avoid: []models.TableStatus{models.TableFree},
	}
	settleGuard = floor.ChainGuard{
		From:  []models.TableStatus{models.TableOrderInProgress, models.TableAccountRequested},
		Avoid: []models.TableStatus{models.TableFree},
	}
)

// MoveTo walks the table along the shortest legal path to status, one
// history entry per hop. It is a no-op when the table is already there.
func (s *TableService) MoveTo(ctx context.Context, id string, status models.TableStatus, actor, reason string) (*models.Table, error) {
	return s.moveGuarded(ctx, id, status, floor.ChainGuard{}, actor, reason)
}

func (s *TableService) moveGuarded(ctx context.Context, id string, status models.TableStatus, guard floor.ChainGuard, actor, reason string) (*models.Table, error) {
	t, changed, err := s.mutateTable(ctx, "move_to_"+string(status), id, func(t *models.Table) ([]models.TableHistoryEntry, error) {
		return s.machine.GuardedChain(t, status, guard, floor.TransitionOptions{Actor: actor, Reason: reason})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.LogTable("MOVE", id, fmt.Sprintf("Table moved to %s (%s)", status, reason))
	}
	return t, nil
}

// SyncForOrder puts the table in order_in_progress after an order was placed.
func (s *TableService) SyncForOrder(ctx context.Context, id, actor string) (*models.Table, error) {
	return s.moveGuarded(ctx, id, models.TableOrderInProgress, orderSyncGuard, actor, "order placed")
}

// ResyncForOrder retries a failed SyncForOrder. Tables that have since
// reached checkout or payment are refused with TABLE_STATE_CONFLICT.
func (s *TableService) ResyncForOrder(ctx context.Context, id, actor string) (*models.Table, error) {
	return s.moveGuarded(ctx, id, models.TableOrderInProgress, resyncGuard, actor, "order placed")
}

// RequestAccount marks the table as waiting for the bill.
func (s *TableService) RequestAccount(ctx context.Context, id, actor string) (*models.Table, error) {
	return s.moveGuarded(ctx, id, models.TableAccountRequested, accountGuard, actor, "checkout started")
}

// Settle confirms payment for the table, folding its covers into the totals.
// Only a table with orders in flight can be settled; a table that was freed
// or reseated since is refused with TABLE_STATE_CONFLICT.
func (s *TableService) Settle(ctx context.Context, id, actor string) (*models.Table, error) {
	return s.moveGuarded(ctx, id, models.TablePaymentConfirmed, settleGuard, actor, "all orders paid")
}
