// Package checkout creates payment sessions for a chosen plan. A session is a
// provider payment intent restricted to one payment-method family and linked
// to the buyer's customer record.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	stripe "github.com/stripe/stripe-go/v82"

	"storefront/internal/external"
	"storefront/internal/types"
)

const (
	// DefaultPaymentMethod is the family used when none is configured.
	DefaultPaymentMethod = "paypal"
	// DefaultCurrency applies when the price carries no currency.
	DefaultCurrency = "eur"

	msgMissingFields = "Both Price ID and Email are required"
	msgInvalidEmail  = "Please enter a valid email address"
)

// Checkout outcomes reported to the metrics recorder.
const (
	OutcomeCreated  = "created"
	OutcomeInvalid  = "invalid"
	OutcomeUpstream = "upstream_error"
)

// Provider is the subset of the payment provider used to open a session.
type Provider interface {
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, email, idempotencyKey string) (*stripe.Customer, error)
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	CreatePaymentIntent(ctx context.Context, in external.PaymentIntentInput) (*stripe.PaymentIntent, error)
}

// Recorder receives checkout outcome counts.
type Recorder interface {
	RecordCheckout(outcome string)
}

// Request is the buyer's checkout input.
type Request struct {
	PriceID string `json:"priceId"`
	Email   string `json:"email"`
}

// Options configures a Service. Zero values fall back to the defaults.
type Options struct {
	PaymentMethod   string
	DefaultCurrency string
	Metrics         Recorder
	Logger          *slog.Logger
}

// Service opens checkout sessions.
type Service struct {
	provider        Provider
	validate        *validator.Validate
	paymentMethod   string
	defaultCurrency string
	metrics         Recorder
	logger          *slog.Logger
}

// NewService creates a checkout Service over the given provider.
func NewService(provider Provider, opts Options) *Service {
	if opts.PaymentMethod == "" {
		opts.PaymentMethod = DefaultPaymentMethod
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = DefaultCurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		provider:        provider,
		validate:        validator.New(),
		paymentMethod:   opts.PaymentMethod,
		defaultCurrency: strings.ToLower(opts.DefaultCurrency),
		metrics:         opts.Metrics,
		logger:          opts.Logger,
	}
}

// PaymentMethod returns the payment-method family sessions are restricted to.
func (s *Service) PaymentMethod() string {
	return s.paymentMethod
}

// Create finds or creates the customer for req.Email, resolves the price and
// opens a payment intent for its unit amount. Validation failures never reach
// the provider.
func (s *Service) Create(ctx context.Context, req Request) (*types.CheckoutSession, error) {
	logger := types.LoggerFromContext(ctx, s.logger)

	priceID := strings.TrimSpace(req.PriceID)
	email := strings.TrimSpace(req.Email)
	if priceID == "" || email == "" {
		s.record(OutcomeInvalid)
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, msgMissingFields)
	}
	if err := s.validate.Var(email, "email"); err != nil {
		s.record(OutcomeInvalid)
		return nil, types.NewValidationError(types.ErrCodeValidationInvalidEmail, msgInvalidEmail)
	}

	customer, err := s.findOrCreateCustomer(ctx, email)
	if err != nil {
		return nil, s.upstream(ctx, logger, "resolving customer", err)
	}

	price, err := s.provider.GetPrice(ctx, priceID)
	if err != nil {
		return nil, s.upstream(ctx, logger, "retrieving price", err)
	}

	currency := string(price.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	productID := ""
	if price.Product != nil {
		productID = price.Product.ID
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, external.PaymentIntentInput{
		Amount:             price.UnitAmount,
		Currency:           currency,
		CustomerID:         customer.ID,
		PaymentMethodTypes: []string{s.paymentMethod},
		ReceiptEmail:       email,
		Metadata: map[string]string{
			types.MetaPriceID:   price.ID,
			types.MetaProductID: productID,
			types.MetaEmail:     email,
		},
	})
	if err != nil {
		return nil, s.upstream(ctx, logger, "creating payment intent", err)
	}

	logger.InfoContext(ctx, "checkout session created",
		slog.String("payment_intent_id", intent.ID),
		slog.String("customer_id", customer.ID),
		slog.String("price_id", price.ID),
		slog.Int64("amount", price.UnitAmount),
		slog.String("currency", currency),
	)
	s.record(OutcomeCreated)

	return &types.CheckoutSession{
		PriceID:         price.ID,
		Email:           email,
		CustomerID:      customer.ID,
		PaymentIntentID: intent.ID,
		ClientSecret:    types.SecretString(intent.ClientSecret),
		Amount:          price.UnitAmount,
		Currency:        currency,
	}, nil
}

// findOrCreateCustomer returns the first customer with the given email or
// creates one. The create call carries a key derived from the exact email
// sent, so concurrent first-time checkouts collapse onto one customer inside
// the provider's idempotency window while differently cased addresses never
// share a key with different parameters.
func (s *Service) findOrCreateCustomer(ctx context.Context, email string) (*stripe.Customer, error) {
	customer, err := s.provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}
	return s.provider.CreateCustomer(ctx, email, CustomerIdempotencyKey(email))
}

// CustomerIdempotencyKey derives the customer-creation key for the email
// exactly as it is sent to the provider. The customer lookup matches emails
// case-sensitively, so the key must too.
func CustomerIdempotencyKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "customer-" + hex.EncodeToString(sum[:])
}

// upstream reports any provider failure as upstream_stripe_error, whatever
// the provider's own code, keeping the original as the cause.
func (s *Service) upstream(ctx context.Context, logger *slog.Logger, op string, err error) error {
	s.record(OutcomeUpstream)
	logger.ErrorContext(ctx, "checkout failed", slog.String("step", op), slog.String("error", err.Error()))
	return types.NewAppError(types.ErrCodeUpstreamStripe, op+" failed", err)
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCheckout(outcome)
	}
}
