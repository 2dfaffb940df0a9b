package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/models"
	"table-service/internal/qrtoken"
)

func openSession(t *testing.T, env *testEnv, tableID string) *models.QRSession {
	t.Helper()
	table, err := env.tables.RotateQR(context.Background(), tableID)
	require.NoError(t, err)
	sess, err := env.sessions.CreateSession(context.Background(), models.CreateSessionRequest{Token: table.QRToken}, ClientInfo{IPAddress: "10.0.0.7", UserAgent: "test"})
	require.NoError(t, err)
	return sess
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sess := openSession(t, env, "T1")

	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, "T1", sess.TableID)
	assert.Equal(t, "1", sess.TableNumber)
	assert.Equal(t, "terrace", sess.Zone)
	assert.Equal(t, "10.0.0.7", sess.IPAddress)
	assert.Equal(t, env.clock.Now().Add(30*time.Minute), sess.ExpiresAt)
	assert.Empty(t, sess.OrderIDs)
}

func TestCreateSession_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, envOptions{qrTTL: time.Hour})
	ctx := context.Background()

	_, err := env.sessions.CreateSession(ctx, models.CreateSessionRequest{Token: "not-a-jwt"}, ClientInfo{})
	assert.Equal(t, apperrors.CodeTokenMalformed, apperrors.CodeOf(err))

	table, err := env.tables.RotateQR(ctx, "T1")
	require.NoError(t, err)
	forged, _, err := qrtoken.NewManager("some-other-secret", time.Hour).Issue("T1", "1", "")
	require.NoError(t, err)
	_, err = env.sessions.CreateSession(ctx, models.CreateSessionRequest{Token: forged}, ClientInfo{})
	assert.Equal(t, apperrors.CodeTokenInvalid, apperrors.CodeOf(err))

	env.clock.Advance(2 * time.Hour)
	_, err = env.sessions.CreateSession(ctx, models.CreateSessionRequest{Token: table.QRToken}, ClientInfo{})
	assert.Equal(t, apperrors.CodeTokenExpired, apperrors.CodeOf(err))

	sessions, err := env.sessions.ListTableSessions(ctx, "T1", true)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCreateSession_RejectsRotatedToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	old, err := env.tables.RotateQR(ctx, "T1")
	require.NoError(t, err)
	oldToken := old.QRToken
	env.clock.Advance(time.Second)
	_, err = env.tables.RotateQR(ctx, "T1")
	require.NoError(t, err)

	_, err = env.sessions.CreateSession(ctx, models.CreateSessionRequest{Token: oldToken}, ClientInfo{})
	assert.Equal(t, apperrors.CodeTokenInvalid, apperrors.CodeOf(err))
}

func TestValidateSession_ExpiryIsDistinctFromQRExpiry(t *testing.T) {
	t.Run("session expired", func(t *testing.T) {
		env := newTestEnv(t, envOptions{qrTTL: 2 * time.Hour, sessionTTL: 30 * time.Minute})
		sess := openSession(t, env, "T1")

		env.clock.Advance(31 * time.Minute)
		_, err := env.sessions.ValidateSession(context.Background(), sess.ID)
		assert.Equal(t, apperrors.CodeSessionExpired, apperrors.CodeOf(err))

		kept, err := env.sessions.GetSession(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionPending, kept.Status)
	})

	t.Run("qr token expired", func(t *testing.T) {
		env := newTestEnv(t, envOptions{qrTTL: 10 * time.Minute, sessionTTL: 30 * time.Minute})
		sess := openSession(t, env, "T1")

		env.clock.Advance(11 * time.Minute)
		_, err := env.sessions.ValidateSession(context.Background(), sess.ID)
		assert.Equal(t, apperrors.CodeQRTokenExpired, apperrors.CodeOf(err))
	})
}

func TestValidateSession_StampsActivity(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sess := openSession(t, env, "T1")

	env.clock.Advance(5 * time.Minute)
	got, err := env.sessions.ValidateSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), got.LastActivityAt)

	_, err = env.sessions.ValidateSession(context.Background(), "qrs_missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUpdateSession_StatusMachine(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	sess := openSession(t, env, "T1")

	browsing := models.SessionBrowsing
	got, err := env.sessions.UpdateSession(ctx, sess.ID, models.SessionUpdate{Status: &browsing, CartItemsCount: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, models.SessionBrowsing, got.Status)
	assert.Equal(t, 2, got.CartItemsCount)

	completed := models.SessionPaymentCompleted
	_, err = env.sessions.UpdateSession(ctx, sess.ID, models.SessionUpdate{Status: &completed})
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))

	got, err = env.sessions.UpdateSession(ctx, sess.ID, models.SessionUpdate{OrderID: "ORD-1"})
	require.NoError(t, err)
	got, err = env.sessions.UpdateSession(ctx, sess.ID, models.SessionUpdate{OrderID: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-1", "ORD-1"}, got.OrderIDs)

	closed, err := env.sessions.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	_, err = env.sessions.UpdateSession(ctx, sess.ID, models.SessionUpdate{Status: &browsing})
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))

	again, err := env.sessions.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, closed.ClosedAt, again.ClosedAt)

	_, err = env.sessions.ValidateSession(ctx, sess.ID)
	assert.Equal(t, apperrors.CodeSessionClosed, apperrors.CodeOf(err))
}

func TestExtendSession_FromNow(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sess := openSession(t, env, "T1")

	env.clock.Advance(20 * time.Minute)
	got, err := env.sessions.ExtendSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(15*time.Minute), got.ExpiresAt)
}

func TestAttachOrder_MovesToOrderPlaced(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	sess := openSession(t, env, "T1")

	res, err := env.orders.CreateOrder(ctx, models.CreateOrderRequest{
		TableID:   "T1",
		SessionID: sess.ID,
		Items:     []models.OrderItemInput{line("pizza", 1)},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	got, err := env.sessions.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionOrderPlaced, got.Status)
	assert.Equal(t, []string{res.Order.ID}, got.OrderIDs)

	// a replayed link leaves the order list alone
	updates := len(env.bus.GetHistory(events.SessionUpdated))
	require.NoError(t, env.sessions.AttachOrder(ctx, sess.ID, res.Order.ID))
	got, err = env.sessions.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Order.ID}, got.OrderIDs)
	assert.Len(t, env.bus.GetHistory(events.SessionUpdated), updates)
}

func TestExpireStaleAndCleanup(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	stale := openSession(t, env, "T1")
	closed := openSession(t, env, "T2")
	_, err := env.sessions.CloseSession(ctx, closed.ID)
	require.NoError(t, err)

	env.clock.Advance(29 * time.Minute)
	fresh := openSession(t, env, "T2")
	env.clock.Advance(2 * time.Minute)

	n, err := env.sessions.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.sessions.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.Status)

	dry, err := env.sessions.Cleanup(ctx, models.CleanupOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.ElementsMatch(t, []string{stale.ID, closed.ID}, dry.Removed)
	_, err = env.sessions.GetSession(ctx, stale.ID)
	require.NoError(t, err)

	res, err := env.sessions.Cleanup(ctx, models.CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	_, err = env.sessions.GetSession(ctx, stale.ID)
	assert.Equal(t, apperrors.CodeSessionNotFound, apperrors.CodeOf(err))
	_, err = env.sessions.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestCleanup_OlderThan(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	old := openSession(t, env, "T1")
	_, err := env.sessions.CloseSession(ctx, old.ID)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Hour)

	recent := openSession(t, env, "T1")
	_, err = env.sessions.CloseSession(ctx, recent.ID)
	require.NoError(t, err)

	res, err := env.sessions.Cleanup(ctx, models.CleanupOptions{OlderThan: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, res.Removed)

	_, err = env.sessions.Cleanup(ctx, models.CleanupOptions{Statuses: []models.SessionStatus{"nonsense"}})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestMoveTableSessions(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	a := openSession(t, env, "T1")
	require.NoError(t, env.sessions.AttachOrder(ctx, a.ID, "ORD-1"))
	b := openSession(t, env, "T1")

	moved, err := env.sessions.MoveTableSessions(ctx, "T1", models.SessionAwaitingPayment)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, a.ID, moved[0].ID)

	got, err := env.sessions.GetSession(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)
}
