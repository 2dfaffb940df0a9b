package services

import (
	"context"
	"errors"
	"fmt"

	"table-service/internal/apperrors"
	"table-service/internal/logger"
	"table-service/internal/models"
)

var ErrInvalidPaymentEvent = errors.New("invalid payment event")

// CheckoutStatusChecker looks up the state of a hosted checkout at the
// payment provider.
type CheckoutStatusChecker interface {
	CheckoutStatus(ctx context.Context, preferenceID string) (models.GatewayPaymentStatus, error)
}

// PaymentService applies payment outcomes reported by the gateway to orders,
// tables and sessions.
type PaymentService struct {
	orders   *OrderService
	tables   *TableService
	sessions *SessionService
	checker  CheckoutStatusChecker
	log      *logger.Logger
}

func NewPaymentService(orders *OrderService, tables *TableService, sessions *SessionService, checker CheckoutStatusChecker, log *logger.Logger) *PaymentService {
	return &PaymentService{
		orders:   orders,
		tables:   tables,
		sessions: sessions,
		checker:  checker,
		log:      log,
	}
}

func (s *PaymentService) ProcessPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	if event == nil || event.Payment == nil || event.Payment.OrderID == "" {
		return ErrInvalidPaymentEvent
	}
	s.log.LogKafka("EVENT_RECEIVED", "payment-events", fmt.Sprintf("Processing event type: %s for payment: %s", event.Type, event.PaymentID))

	status := event.Payment.Status
	switch event.Type {
	case "payment.success":
		status = models.GatewaySuccess
	case "payment.failed":
		status = models.GatewayFailed
	case "payment.refunded":
		status = models.GatewayRefunded
	case "payment.cancelled":
		status = models.GatewayCancelled
	case "payment.webhook", "payment.created":
	default:
		s.log.Warn("KAFKA", fmt.Sprintf("Unknown event type received: %s", event.Type))
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	return s.applyGatewayStatus(ctx, event.Payment.OrderID, status)
}

func (s *PaymentService) applyGatewayStatus(ctx context.Context, orderID string, status models.GatewayPaymentStatus) error {
	switch status {
	case models.GatewaySuccess:
		return s.MarkPaid(ctx, orderID)
	case models.GatewayRefunded, models.GatewayCancelled:
		_, err := s.orders.UpdatePaymentStatus(ctx, orderID, models.PaymentStatusUpdate{PaymentStatus: models.PaymentCancelled, Actor: "payment-gateway"})
		if err == nil {
			s.log.LogPayment(string(status), orderID, "Order payment cancelled by gateway")
		}
		return err
	case models.GatewayFailed:
		s.log.LogPayment("FAILED", orderID, "Gateway reported a failed payment, order stays pending")
		return nil
	default:
		s.log.LogPayment("PENDING", orderID, fmt.Sprintf("Gateway status %s, nothing to apply", status))
		return nil
	}
}

// MarkPaid records a successful payment. Once the table has no order left
// waiting for payment it is settled and its sessions are completed.
// Repeated notifications for a paid order are ignored.
func (s *PaymentService) MarkPaid(ctx context.Context, orderID string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == models.PaymentPaid {
		s.log.LogPayment("DUPLICATE", orderID, "Order already paid, skipping")
		return nil
	}
	if order.PaymentStatus == models.PaymentCancelled {
		return apperrors.Conflict(apperrors.CodeOrderClosed, "payment received for a cancelled order").With("orderId", orderID)
	}

	if _, err := s.orders.UpdatePaymentStatus(ctx, orderID, models.PaymentStatusUpdate{PaymentStatus: models.PaymentPaid, Actor: "payment-gateway"}); err != nil {
		return err
	}
	s.log.LogPayment("PAID", orderID, fmt.Sprintf("Order paid, %d cents", order.TotalCents))

	pending, err := s.orders.PendingPaymentCount(ctx, order.TableID)
	if err != nil {
		return err
	}
	if pending > 0 {
		s.log.LogPayment("PAID", orderID, fmt.Sprintf("Table %s still has %d unpaid orders", order.TableID, pending))
		return nil
	}

	if _, err := s.tables.Settle(ctx, order.TableID, "payment-gateway"); err != nil {
		s.log.Warn("PAYMENT", fmt.Sprintf("Order %s paid but table %s could not be settled: %v", orderID, order.TableID, err))
		return nil
	}
	if s.sessions != nil {
		if _, err := s.sessions.MoveTableSessions(ctx, order.TableID, models.SessionPaymentCompleted); err != nil {
			s.log.Warn("PAYMENT", fmt.Sprintf("Could not complete sessions of table %s: %v", order.TableID, err))
		}
	}
	return nil
}

// SyncCheckout polls the provider for the order's checkout and applies the
// outcome.
func (s *PaymentService) SyncCheckout(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentPreferenceID == "" {
		return nil, apperrors.Conflict(apperrors.CodeCheckoutNotStarted, "order has no checkout yet").With("orderId", orderID)
	}
	if s.checker == nil {
		return order, nil
	}

	status, err := s.checker.CheckoutStatus(ctx, order.PaymentPreferenceID)
	if err != nil {
		return nil, apperrors.External(apperrors.CodePaymentProviderError, "could not read checkout status", err).With("orderId", orderID)
	}
	if err := s.applyGatewayStatus(ctx, orderID, status); err != nil {
		return nil, err
	}
	return s.orders.GetOrder(ctx, orderID)
}
