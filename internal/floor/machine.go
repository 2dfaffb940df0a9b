// Package floor holds the table state machine: the legal status graph and
// the covers (guest count) bookkeeping tied to specific transitions.
package floor

import (
	"fmt"
	"time"

	"table-service/internal/apperrors"
	"table-service/internal/models"
	"table-service/internal/utils"
)

// DefaultMaxCovers caps covers.current when no limit is configured.
const DefaultMaxCovers = 20

type Machine struct {
	graph     *Graph
	maxCovers int
	now       func() time.Time
}

func NewMachine(graph *Graph, maxCovers int) *Machine {
	if graph == nil {
		graph = DefaultGraph()
	}
	if maxCovers <= 0 {
		maxCovers = DefaultMaxCovers
	}
	return &Machine{graph: graph, maxCovers: maxCovers, now: time.Now}
}

// WithClock swaps the time source, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) Graph() *Graph {
	return m.graph
}

func (m *Machine) MaxCovers() int {
	return m.maxCovers
}

type TransitionOptions struct {
	Actor  string
	Reason string
	// Covers seats guests while moving the table, typically free -> occupied.
	Covers *int
}

// NewTable returns a freshly provisioned table in the initial status.
func (m *Machine) NewTable(seed models.TableSeed) models.Table {
	now := m.now().UTC()
	return models.Table{
		ID:        seed.ID,
		Number:    seed.Number,
		Zone:      seed.Zone,
		SeatCount: seed.SeatCount,
		Status:    m.graph.Initial(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *Machine) clampCovers(n int) int {
	if n < 0 {
		return 0
	}
	if n > m.maxCovers {
		return m.maxCovers
	}
	return n
}

// Transition moves t to status `to`, applying the covers side effects of the
// target status. A same-status move is a no-op and returns a nil entry.
func (m *Machine) Transition(t *models.Table, to models.TableStatus, opts TransitionOptions) (*models.TableHistoryEntry, error) {
	from := t.Status
	if from == to && m.graph.Known(to) {
		return nil, nil
	}
	if !m.graph.Allowed(from, to) {
		return nil, apperrors.InvalidTransition("table", string(from), string(to)).With("tableId", t.ID)
	}

	now := m.now().UTC()
	before := t.Covers.Current

	if opts.Covers != nil {
		t.Covers.Current = m.clampCovers(*opts.Covers)
		t.Covers.LastUpdatedAt = &now
	}

	switch to {
	case models.TablePaymentConfirmed:
		if t.Covers.Current > 0 {
			t.Covers.Total += t.Covers.Current
			t.Covers.Sessions++
			t.Covers.LastSessionAt = &now
		}
	case models.TableFree:
		t.Covers.Current = 0
		t.Covers.LastUpdatedAt = &now
	}

	t.Status = to
	t.UpdatedAt = now

	entry := &models.TableHistoryEntry{
		ID:        utils.GenerateUUID(),
		TableID:   t.ID,
		From:      from,
		To:        to,
		Actor:     opts.Actor,
		Reason:    opts.Reason,
		Timestamp: now,
	}
	if delta := t.Covers.Current - before; delta != 0 {
		entry.CoversDelta = &delta
	}
	return entry, nil
}

// SetCurrentCovers updates the seated guest count without touching status.
// A history entry is produced only when an actor or reason is given.
func (m *Machine) SetCurrentCovers(t *models.Table, n int, actor, reason string) *models.TableHistoryEntry {
	now := m.now().UTC()
	before := t.Covers.Current
	t.Covers.Current = m.clampCovers(n)
	t.Covers.LastUpdatedAt = &now
	t.UpdatedAt = now

	if actor == "" && reason == "" {
		return nil
	}
	delta := t.Covers.Current - before
	return &models.TableHistoryEntry{
		ID:          utils.GenerateUUID(),
		TableID:     t.ID,
		From:        t.Status,
		To:          t.Status,
		Actor:       actor,
		Reason:      reason,
		CoversDelta: &delta,
		Timestamp:   now,
	}
}

// TransitionChain walks t along the shortest legal path to `to`, returning
// one history entry per hop. On failure t is left untouched.
func (m *Machine) TransitionChain(t *models.Table, to models.TableStatus, opts TransitionOptions) ([]models.TableHistoryEntry, error) {
	return m.GuardedChain(t, to, ChainGuard{}, opts)
}

// ChainGuard limits a multi-hop move. From lists the statuses the move may
// start in (empty means any); Avoid lists statuses it may not pass through on
// the way to its target.
type ChainGuard struct {
	From  []models.TableStatus
	Avoid []models.TableStatus
}

func hasStatus(list []models.TableStatus, s models.TableStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GuardedChain is TransitionChain restricted by guard. A table already in
// `to` is left alone whatever the guard says.
func (m *Machine) GuardedChain(t *models.Table, to models.TableStatus, guard ChainGuard, opts TransitionOptions) ([]models.TableHistoryEntry, error) {
	if t.Status == to && m.graph.Known(to) {
		return nil, nil
	}
	if len(guard.From) > 0 && !hasStatus(guard.From, t.Status) {
		return nil, apperrors.Conflict(apperrors.CodeTableStateConflict,
			fmt.Sprintf("table %s is %s and cannot be moved to %s", t.ID, t.Status, to)).
			With("tableId", t.ID).
			With("status", string(t.Status)).
			With("target", string(to))
	}

	path := m.graph.Path(t.Status, to)
	if path == nil {
		return nil, apperrors.InvalidTransition("table", string(t.Status), string(to)).With("tableId", t.ID)
	}
	for _, step := range path[:len(path)-1] {
		if hasStatus(guard.Avoid, step) {
			return nil, apperrors.Conflict(apperrors.CodeTableStateConflict,
				fmt.Sprintf("table %s would pass through %s on its way to %s", t.ID, step, to)).
				With("tableId", t.ID).
				With("status", string(t.Status)).
				With("target", string(to))
		}
	}

	work := *t
	var entries []models.TableHistoryEntry
	for i, step := range path {
		stepOpts := TransitionOptions{Actor: opts.Actor, Reason: opts.Reason}
		if i == 0 {
			stepOpts.Covers = opts.Covers
		}
		entry, err := m.Transition(&work, step, stepOpts)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	*t = work
	return entries, nil
}
