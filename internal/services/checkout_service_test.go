package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
)

type MockPreferenceCreator struct {
	mock.Mock
}

func (m *MockPreferenceCreator) CreatePreference(ctx context.Context, req *models.PreferenceRequest) (*models.PaymentPreference, error) {
	args := m.Called(ctx, req)
	pref, _ := args.Get(0).(*models.PaymentPreference)
	return pref, args.Error(1)
}

type MockCheckoutLock struct {
	mock.Mock
}

func (m *MockCheckoutLock) AcquireCheckout(ctx context.Context, orderID, owner string) (bool, error) {
	args := m.Called(ctx, orderID, owner)
	return args.Bool(0), args.Error(1)
}

func (m *MockCheckoutLock) ReleaseCheckout(ctx context.Context, orderID, owner string) error {
	args := m.Called(ctx, orderID, owner)
	return args.Error(0)
}

func newCheckout(env *testEnv, prefs PreferenceCreator, lock CheckoutLock) *CheckoutService {
	return NewCheckoutService(env.orders, env.tables, env.sessions, prefs, lock, env.bus, logger.NewNop(), "eur", "ES")
}

func TestCreateCheckout(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	sess := openSession(t, env, "T1")

	res, err := env.orders.CreateOrder(ctx, models.CreateOrderRequest{TableID: "T1", SessionID: sess.ID, Items: []models.OrderItemInput{line("pizza", 1)}})
	require.NoError(t, err)
	orderID := res.Order.ID

	prefs := new(MockPreferenceCreator)
	prefs.On("CreatePreference", mock.Anything, mock.MatchedBy(func(r *models.PreferenceRequest) bool {
		return r.OrderID == orderID && r.AmountCents == 1210 && r.CustomerPhone == "+34612345678" && r.Currency == "eur"
	})).Return(&models.PaymentPreference{ID: "cs_test_1", OrderID: orderID, CheckoutURL: "https://pay.example/cs_test_1", AmountCents: 1210}, nil).Once()

	lock := new(MockCheckoutLock)
	lock.On("AcquireCheckout", mock.Anything, orderID, mock.AnythingOfType("string")).Return(true, nil).Once()
	lock.On("ReleaseCheckout", mock.Anything, orderID, mock.AnythingOfType("string")).Return(nil).Once()

	out, err := newCheckout(env, prefs, lock).CreateCheckout(ctx, orderID, models.CheckoutRequest{
		Customer: &models.Customer{Name: "Grace", Email: "grace@example.com", Phone: "612 345 678"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", out.Order.PaymentPreferenceID)
	assert.Equal(t, "https://pay.example/cs_test_1", out.Order.CheckoutURL)
	assert.Equal(t, "+34612345678", out.Order.Customer.Phone)
	require.NotNil(t, out.Table)
	assert.Equal(t, models.TableAccountRequested, out.Table.Status)

	got, err := env.sessions.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAwaitingPayment, got.Status)
	assert.Len(t, env.bus.GetHistory(events.PaymentPreference), 1)

	prefs.AssertExpectations(t)
	lock.AssertExpectations(t)
}

func TestCreateCheckout_InProgress(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	res, err := env.orders.CreateOrder(ctx, orderFor("T1", line("cola", 2)))
	require.NoError(t, err)

	prefs := new(MockPreferenceCreator)
	lock := new(MockCheckoutLock)
	lock.On("AcquireCheckout", mock.Anything, res.Order.ID, mock.Anything).Return(false, nil)

	_, err = newCheckout(env, prefs, lock).CreateCheckout(ctx, res.Order.ID, models.CheckoutRequest{})
	assert.Equal(t, apperrors.CodeCheckoutInProgress, apperrors.CodeOf(err))
	prefs.AssertNotCalled(t, "CreatePreference", mock.Anything, mock.Anything)
}

func TestCreateCheckout_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	res, err := env.orders.CreateOrder(ctx, orderFor("T1", line("cola", 2)))
	require.NoError(t, err)

	prefs := new(MockPreferenceCreator)
	prefs.On("CreatePreference", mock.Anything, mock.Anything).Return(nil, errors.New("card network down"))

	_, err = newCheckout(env, prefs, nil).CreateCheckout(ctx, res.Order.ID, models.CheckoutRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExternalService))
	assert.Equal(t, apperrors.CodePaymentProviderError, apperrors.CodeOf(err))

	o, err := env.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Empty(t, o.PaymentPreferenceID)
}

func TestCreateCheckout_Rejects(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	prefs := new(MockPreferenceCreator)
	svc := newCheckout(env, prefs, nil)

	res, err := env.orders.CreateOrder(ctx, orderFor("T1", line("cola", 1)))
	require.NoError(t, err)

	_, err = svc.CreateCheckout(ctx, res.Order.ID, models.CheckoutRequest{Customer: &models.Customer{Phone: "12"}})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = svc.CreateCheckout(ctx, res.Order.ID, models.CheckoutRequest{Customer: &models.Customer{Email: "nope"}})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = env.orders.UpdatePaymentStatus(ctx, res.Order.ID, models.PaymentStatusUpdate{PaymentStatus: models.PaymentPaid})
	require.NoError(t, err)
	_, err = svc.CreateCheckout(ctx, res.Order.ID, models.CheckoutRequest{})
	assert.Equal(t, apperrors.CodeOrderAlreadyPaid, apperrors.CodeOf(err))

	_, err = svc.CreateCheckout(ctx, "ORD-missing", models.CheckoutRequest{})
	assert.Equal(t, apperrors.CodeOrderNotFound, apperrors.CodeOf(err))

	prefs.AssertNotCalled(t, "CreatePreference", mock.Anything, mock.Anything)
}
