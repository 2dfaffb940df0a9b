package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"table-service/internal/config"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/utils"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeService creates hosted Stripe Checkout sessions for table bills.
type StripeService struct {
	client     *client.API
	successURL string
	cancelURL  string
	log        *logger.Logger
}

// NewStripeService creates a new instance of StripeService
func NewStripeService(cfg config.StripeConfig, log *logger.Logger) (*StripeService, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{
		client:     sc,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		log:        log,
	}, nil
}

// CreatePreference opens a Checkout Session charging the order total as a
// single line.
func (s *StripeService) CreatePreference(ctx context.Context, req *models.PreferenceRequest) (*models.PaymentPreference, error) {
	s.log.LogPayment("CHECKOUT", req.OrderID, fmt.Sprintf("Creating Stripe checkout for %d %s", req.AmountCents, req.Currency))

	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL + "?order_id=" + req.OrderID + "&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cancelURL + "?order_id=" + req.OrderID),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("table_number", req.TableNumber)
	if req.CustomerPhone != "" {
		params.AddMetadata("customer_phone", req.CustomerPhone)
	}
	if req.CustomerName != "" {
		params.AddMetadata("customer_name", req.CustomerName)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", req.OrderID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.LogPayment("CHECKOUT", req.OrderID, fmt.Sprintf("Checkout session created: %s", cs.ID))
	return &models.PaymentPreference{
		ID:          cs.ID,
		OrderID:     req.OrderID,
		CheckoutURL: cs.URL,
		AmountCents: req.AmountCents,
		Currency:    currency,
		CreatedAt:   time.Unix(cs.Created, 0).UTC(),
	}, nil
}

// CheckoutStatus maps the state of a Checkout Session to a gateway payment
// status.
func (s *StripeService) CheckoutStatus(ctx context.Context, sessionID string) (models.GatewayPaymentStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	cs, err := s.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve checkout session %s: %v", sessionID, err))
		return "", fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	switch {
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return models.GatewaySuccess, nil
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		return models.GatewayCancelled, nil
	default:
		return models.GatewayPending, nil
	}
}

// OfflinePreferences stands in for Stripe when no key is configured. It
// returns a local URL and never charges anyone.
type OfflinePreferences struct {
	baseURL string
	log     *logger.Logger
}

func NewOfflinePreferences(baseURL string, log *logger.Logger) *OfflinePreferences {
	log.Warn("STRIPE", "Running checkout in offline mode - no payments will be taken")
	return &OfflinePreferences{baseURL: baseURL, log: log}
}

func (o *OfflinePreferences) CreatePreference(ctx context.Context, req *models.PreferenceRequest) (*models.PaymentPreference, error) {
	id := "pref_" + utils.GenerateUUID()
	o.log.LogPayment("MOCK_CHECKOUT", req.OrderID, fmt.Sprintf("Offline preference %s for %d %s", id, req.AmountCents, req.Currency))
	return &models.PaymentPreference{
		ID:          id,
		OrderID:     req.OrderID,
		CheckoutURL: fmt.Sprintf("%s?order_id=%s&preference_id=%s", o.baseURL, req.OrderID, id),
		AmountCents: req.AmountCents,
		Currency:    strings.ToLower(req.Currency),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
