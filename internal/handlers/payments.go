package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/services"
	"table-service/internal/utils"
)

const maxWebhookBody = int64(65536)

type PaymentHandler struct {
	checkout      *services.CheckoutService
	payments      *services.PaymentService
	webhookSecret string
	log           *logger.Logger
}

func NewPaymentHandler(checkout *services.CheckoutService, payments *services.PaymentService, webhookSecret string, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		checkout:      checkout,
		payments:      payments,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// CreateCheckout asks the payment provider for a hosted checkout covering
// the order and moves the table to account_requested.
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request payload", err)
			return
		}
	}

	res, err := h.checkout.CreateCheckout(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Checkout failed", err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Checkout created", res))
}

func (h *PaymentHandler) SyncPayment(c *gin.Context) {
	order, err := h.payments.SyncCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Payment sync failed", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment status synced", order))
}

// StripeWebhook verifies the Stripe signature and applies checkout outcomes.
// Events the service does not act on are acknowledged and ignored.
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "Unable to read webhook body", err)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.LogSecurity("WEBHOOK_REJECTED", fmt.Sprintf("Invalid Stripe signature from %s: %v", c.ClientIP(), err))
		badRequest(c, "Invalid webhook signature", err)
		return
	}

	var (
		cs     stripe.CheckoutSession
		status models.GatewayPaymentStatus
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		status = models.GatewaySuccess
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		status = models.GatewayFailed
	case stripe.EventTypeCheckoutSessionExpired:
		status = models.GatewayCancelled
	default:
		h.log.Debug("WEBHOOK", fmt.Sprintf("Ignoring Stripe event %s", event.Type))
		c.JSON(http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}

	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		badRequest(c, "Malformed checkout session", err)
		return
	}
	orderID := cs.ClientReferenceID
	if orderID == "" {
		orderID = cs.Metadata["order_id"]
	}
	if orderID == "" {
		badRequest(c, "Checkout session has no order reference", services.ErrInvalidPaymentEvent)
		return
	}
	// completed fires before async methods settle
	if status == models.GatewaySuccess && cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		status = models.GatewayPending
	}

	err = h.payments.ProcessPaymentEvent(c.Request.Context(), &models.PaymentEvent{
		Type:      "payment.webhook",
		PaymentID: cs.ID,
		Payment: &models.Payment{
			PaymentID: cs.ID,
			OrderID:   orderID,
			Status:    status,
			Price:     float64(cs.AmountTotal) / 100,
		},
	})
	if err != nil {
		respondError(c, "Webhook processing failed", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Webhook processed", gin.H{"orderId": orderID, "status": status}))
}
