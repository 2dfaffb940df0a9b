package floor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-service/internal/apperrors"
	"table-service/internal/models"
)

func intPtr(v int) *int { return &v }

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func newTable(m *Machine, status models.TableStatus) models.Table {
	t := m.NewTable(models.TableSeed{ID: "T1", Number: "1"})
	t.Status = status
	return t
}

func TestDefaultGraph_Shape(t *testing.T) {
	g := DefaultGraph()

	assert.Equal(t, models.TableFree, g.Initial())
	assert.ElementsMatch(t, []models.TableStatus{
		models.TableFree, models.TableOccupied, models.TableOrderInProgress,
		models.TableAccountRequested, models.TablePaymentConfirmed,
	}, g.States())
	assert.Equal(t, []models.TableStatus{models.TableOccupied}, g.Next(models.TableFree))
}

func TestTransition_Legality(t *testing.T) {
	m := NewMachine(DefaultGraph(), 10).WithClock(fixedClock())
	g := m.Graph()

	for _, from := range g.States() {
		for _, to := range g.States() {
			table := newTable(m, from)
			_, err := m.Transition(&table, to, TransitionOptions{})

			if from == to || g.Allowed(from, to) {
				assert.NoError(t, err, "%s -> %s should be allowed", from, to)
				assert.Equal(t, to, table.Status)
				continue
			}
			require.Error(t, err, "%s -> %s should be rejected", from, to)
			assert.True(t, errors.Is(err, apperrors.ErrConflict))
			assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
			assert.Equal(t, from, table.Status)

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, string(from), appErr.Details["from"])
			assert.Equal(t, string(to), appErr.Details["to"])
		}
	}
}

func TestTransition_SameStateIsNoop(t *testing.T) {
	m := NewMachine(nil, 0)
	table := newTable(m, models.TableOccupied)

	entry, err := m.Transition(&table, models.TableOccupied, TransitionOptions{Actor: "waiter"})

	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestTransition_UnknownStatusRejected(t *testing.T) {
	m := NewMachine(nil, 0)
	table := newTable(m, models.TableFree)

	_, err := m.Transition(&table, models.TableStatus("cleaning"), TransitionOptions{})

	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestTransition_CoversLifecycle(t *testing.T) {
	m := NewMachine(nil, 8).WithClock(fixedClock())
	table := newTable(m, models.TableFree)

	entry, err := m.Transition(&table, models.TableOccupied, TransitionOptions{Covers: intPtr(4), Actor: "host"})
	require.NoError(t, err)
	require.NotNil(t, entry.CoversDelta)
	assert.Equal(t, 4, *entry.CoversDelta)
	assert.Equal(t, "host", entry.Actor)

	for _, s := range []models.TableStatus{models.TableOrderInProgress, models.TableAccountRequested, models.TablePaymentConfirmed} {
		_, err = m.Transition(&table, s, TransitionOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, table.Covers.Total)
	assert.Equal(t, 1, table.Covers.Sessions)
	assert.Equal(t, 4, table.Covers.Current)
	require.NotNil(t, table.Covers.LastSessionAt)

	entry, err = m.Transition(&table, models.TableFree, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, table.Covers.Current)
	assert.Equal(t, -4, *entry.CoversDelta)
	assert.Equal(t, 4, table.Covers.Total)
	assert.Equal(t, 1, table.Covers.Sessions)
}

func TestTransition_PaymentConfirmedWithoutCoversDoesNotCountSession(t *testing.T) {
	m := NewMachine(nil, 8)
	table := newTable(m, models.TableAccountRequested)

	_, err := m.Transition(&table, models.TablePaymentConfirmed, TransitionOptions{})

	require.NoError(t, err)
	assert.Equal(t, 0, table.Covers.Sessions)
	assert.Nil(t, table.Covers.LastSessionAt)
}

func TestCoverMonotonicity(t *testing.T) {
	m := NewMachine(nil, 6)
	table := newTable(m, models.TableFree)
	steps := []struct {
		to     models.TableStatus
		covers *int
	}{
		{models.TableOccupied, intPtr(3)},
		{models.TableOrderInProgress, nil},
		{models.TableAccountRequested, nil},
		{models.TablePaymentConfirmed, nil},
		{models.TableFree, nil},
		{models.TableOccupied, intPtr(50)},
		{models.TableFree, nil},
		{models.TableOccupied, intPtr(2)},
		{models.TableOrderInProgress, nil},
		{models.TableAccountRequested, nil},
		{models.TablePaymentConfirmed, nil},
		{models.TableFree, nil},
	}

	lastTotal, lastSessions := 0, 0
	for _, s := range steps {
		_, err := m.Transition(&table, s.to, TransitionOptions{Covers: s.covers})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, table.Covers.Total, lastTotal)
		assert.GreaterOrEqual(t, table.Covers.Sessions, lastSessions)
		assert.LessOrEqual(t, table.Covers.Current, 6)
		if s.to == models.TableFree {
			assert.Equal(t, 0, table.Covers.Current)
		}
		lastTotal, lastSessions = table.Covers.Total, table.Covers.Sessions
	}
	assert.Equal(t, 5, table.Covers.Total)
	assert.Equal(t, 2, table.Covers.Sessions)
}

func TestSetCurrentCovers_ClampsAndLogsOnlyWithContext(t *testing.T) {
	m := NewMachine(nil, 10)
	table := newTable(m, models.TableOccupied)

	assert.Nil(t, m.SetCurrentCovers(&table, 25, "", ""))
	assert.Equal(t, 10, table.Covers.Current)

	entry := m.SetCurrentCovers(&table, -3, "waiter", "party left")
	require.NotNil(t, entry)
	assert.Equal(t, 0, table.Covers.Current)
	assert.Equal(t, -10, *entry.CoversDelta)
	assert.Equal(t, models.TableOccupied, entry.From)
	assert.Equal(t, models.TableOccupied, entry.To)
	assert.Equal(t, models.TableOccupied, table.Status)
}

func TestTransitionChain(t *testing.T) {
	m := NewMachine(nil, 10)
	table := newTable(m, models.TableFree)

	entries, err := m.TransitionChain(&table, models.TableOrderInProgress, TransitionOptions{Actor: "system"})

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.TableOccupied, entries[0].To)
	assert.Equal(t, models.TableOrderInProgress, entries[1].To)
	assert.Equal(t, models.TableOrderInProgress, table.Status)

	entries, err = m.TransitionChain(&table, models.TableOrderInProgress, TransitionOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGuardedChain(t *testing.T) {
	m := NewMachine(nil, 10)
	guard := ChainGuard{
		From:  []models.TableStatus{models.TableOrderInProgress, models.TableAccountRequested},
		Avoid: []models.TableStatus{models.TableFree},
	}

	seated := newTable(m, models.TableOccupied)
	seated.Covers.Current = 4
	_, err := m.GuardedChain(&seated, models.TablePaymentConfirmed, guard, TransitionOptions{})
	assert.Equal(t, apperrors.CodeTableStateConflict, apperrors.CodeOf(err))
	assert.Equal(t, models.TableOccupied, seated.Status)
	assert.Equal(t, 0, seated.Covers.Total)

	busy := newTable(m, models.TableOrderInProgress)
	entries, err := m.GuardedChain(&busy, models.TablePaymentConfirmed, guard, TransitionOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.TableAccountRequested, entries[0].To)
	assert.Equal(t, models.TablePaymentConfirmed, busy.Status)

	// account_requested reaches occupied only through order_in_progress
	busy = newTable(m, models.TableAccountRequested)
	_, err = m.GuardedChain(&busy, models.TableOccupied, ChainGuard{Avoid: []models.TableStatus{models.TableOrderInProgress}}, TransitionOptions{})
	assert.Equal(t, apperrors.CodeTableStateConflict, apperrors.CodeOf(err))
	assert.Equal(t, models.TableAccountRequested, busy.Status)

	done := newTable(m, models.TablePaymentConfirmed)
	entries, err = m.GuardedChain(&done, models.TablePaymentConfirmed, guard, TransitionOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseGraph_CustomStates(t *testing.T) {
	g, err := ParseGraph([]byte(`
transitions:
  free: [occupied, cleaning]
  occupied: [free]
  cleaning: [free]
`))
	require.NoError(t, err)
	assert.True(t, g.Allowed(models.TableFree, "cleaning"))
	assert.False(t, g.Allowed("cleaning", models.TableOccupied))
	assert.Equal(t, []models.TableStatus{models.TableFree, models.TableOccupied}, g.Path("cleaning", models.TableOccupied))
}

func TestParseGraph_UndeclaredTarget(t *testing.T) {
	_, err := ParseGraph([]byte(`
transitions:
  free: [occupied]
`))
	assert.Error(t, err)
}
