package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/utils"
)

type CheckoutService struct {
	orders      *OrderService
	tables      *TableService
	sessions    *SessionService
	preferences PreferenceCreator
	lock        CheckoutLock
	bus         EventPublisher
	log         *logger.Logger
	validate    *validator.Validate
	currency    string
	phoneRegion string
}

func NewCheckoutService(orders *OrderService, tables *TableService, sessions *SessionService, preferences PreferenceCreator, lock CheckoutLock, bus EventPublisher, log *logger.Logger, currency, phoneRegion string) *CheckoutService {
	return &CheckoutService{
		orders:      orders,
		tables:      tables,
		sessions:    sessions,
		preferences: preferences,
		lock:        lock,
		bus:         bus,
		log:         log,
		validate:    validator.New(),
		currency:    currency,
		phoneRegion: phoneRegion,
	}
}

func (s *CheckoutService) normalizeCustomer(c *models.Customer) (*models.Customer, error) {
	if c == nil {
		return nil, nil
	}
	out := *c
	out.Name = strings.TrimSpace(out.Name)
	out.Email = strings.TrimSpace(out.Email)
	if out.Email != "" {
		if err := s.validate.Var(out.Email, "email"); err != nil {
			return nil, apperrors.Validation("customer.email", "email address is not valid")
		}
	}
	if strings.TrimSpace(out.Phone) != "" {
		phone, err := utils.NormalizePhone(out.Phone, s.phoneRegion)
		if err != nil {
			return nil, apperrors.Validation("customer.phone", fmt.Sprintf("phone number is not valid: %v", err))
		}
		out.Phone = phone
	}
	return &out, nil
}

// CreateCheckout asks the payment provider for a hosted checkout covering
// the order total. Only one checkout per order runs at a time.
func (s *CheckoutService) CreateCheckout(ctx context.Context, orderID string, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case order.PaymentStatus == models.PaymentPaid:
		return nil, apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, "order is already paid").With("orderId", orderID)
	case order.Status == models.OrderClosed || order.PaymentStatus == models.PaymentCancelled:
		return nil, apperrors.Conflict(apperrors.CodeOrderClosed, "order is closed").With("orderId", orderID)
	}

	customer, err := s.normalizeCustomer(req.Customer)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		customer = order.Customer
	}

	var warnings []string
	if s.lock != nil {
		owner := utils.GenerateUUID()
		acquired, err := s.lock.AcquireCheckout(ctx, orderID, owner)
		switch {
		case err != nil:
			s.log.Warn("CHECKOUT", fmt.Sprintf("Checkout lock unavailable for order %s, continuing: %v", orderID, err))
			warnings = append(warnings, "checkout lock unavailable")
		case !acquired:
			return nil, apperrors.Conflict(apperrors.CodeCheckoutInProgress, "a checkout for this order is already in progress").
				With("orderId", orderID)
		default:
			defer func() {
				if err := s.lock.ReleaseCheckout(context.Background(), orderID, owner); err != nil {
					s.log.Warn("CHECKOUT", fmt.Sprintf("Failed to release checkout lock for order %s: %v", orderID, err))
				}
			}()
		}
	}

	preq := &models.PreferenceRequest{
		OrderID:     order.ID,
		TableNumber: order.TableNumber,
		Description: fmt.Sprintf("Table %s - order %s", order.TableNumber, order.ID),
		AmountCents: order.TotalCents,
		Currency:    s.currency,
		Metadata:    map[string]string{"table_id": order.TableID},
	}
	if customer != nil {
		preq.CustomerName = customer.Name
		preq.CustomerEmail = customer.Email
		preq.CustomerPhone = customer.Phone
	}

	pref, err := s.preferences.CreatePreference(ctx, preq)
	if err != nil {
		s.log.Error("CHECKOUT", fmt.Sprintf("Payment provider failed for order %s: %v", orderID, err))
		return nil, apperrors.External(apperrors.CodePaymentProviderError, "payment provider could not create the checkout", err).
			With("orderId", orderID)
	}

	updated, err := s.orders.AttachPreference(ctx, orderID, pref, customer)
	if err != nil {
		return nil, err
	}

	result := &models.CheckoutResult{Order: updated, Preference: pref, Warnings: warnings}

	table, err := s.tables.RequestAccount(ctx, order.TableID, "checkout")
	if err != nil {
		s.log.Warn("CHECKOUT", fmt.Sprintf("Could not mark table %s as account requested: %v", order.TableID, err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", apperrors.CodeTableUpdateFailed, err))
	} else {
		result.Table = table
	}
	if s.sessions != nil {
		if _, err := s.sessions.MoveTableSessions(ctx, order.TableID, models.SessionAwaitingPayment); err != nil {
			s.log.Warn("CHECKOUT", fmt.Sprintf("Could not move sessions of table %s: %v", order.TableID, err))
		}
	}

	s.log.LogPayment("CHECKOUT", orderID, fmt.Sprintf("Checkout %s ready for %d cents", pref.ID, pref.AmountCents))
	s.bus.Publish(events.PaymentPreference, pref)
	return result, nil
}
