package external

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
)

// PaymentProvider is the full set of payment provider operations used by the
// storefront. Services depend on narrower interfaces of their own; this one
// documents the surface and pins StripeClient to it.
type PaymentProvider interface {
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, email, idempotencyKey string) (*stripe.Customer, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	ListActiveProducts(ctx context.Context) ([]*stripe.Product, error)
	ListActivePrices(ctx context.Context) ([]*stripe.Price, error)

	CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	ListCustomerPaymentIntents(ctx context.Context, customerID string, limit int) ([]*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
	GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)

	UpdateSubscriptionPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string, metadata map[string]string) error

	Ping(ctx context.Context) error
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventPaymentIntentSucceeded = string(stripe.EventTypePaymentIntentSucceeded)
)

var _ PaymentProvider = (*StripeClient)(nil)
