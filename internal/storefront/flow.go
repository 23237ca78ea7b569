// Package storefront drives the buyer side of checkout: load the catalog,
// pick a plan, give an email, and hand a client secret to the payment widget.
// Every step that the buyer would expect to survive a reload is written to
// the retained session.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"storefront/internal/catalog"
	"storefront/internal/clientstate"
	"storefront/internal/types"
)

// Buyer-facing failures. UserMessage maps them to the text shown on screen.
var (
	ErrNoPlans            = errors.New("storefront: catalog is empty")
	ErrCatalogUnavailable = errors.New("storefront: catalog unavailable")
	ErrCatalogNotLoaded   = errors.New("storefront: catalog not loaded")
	ErrUnknownPlan        = errors.New("storefront: plan not in catalog")
	ErrInvalidEmail       = errors.New("storefront: invalid email")
	ErrNotReady           = errors.New("storefront: plan and email required")
	ErrCheckoutFailed     = errors.New("storefront: checkout could not be started")
)

// UserMessage returns the text shown to the buyer for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoPlans):
		return "No pricing plans are currently available."
	case errors.Is(err, ErrCatalogUnavailable), errors.Is(err, ErrCatalogNotLoaded):
		return "Failed to load subscription options. Please try again later."
	case errors.Is(err, ErrUnknownPlan):
		return "The selected plan is no longer available."
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address"
	case errors.Is(err, ErrNotReady):
		return "Please choose a plan and enter your email address."
	default:
		return "Something went wrong while starting checkout. Please try again."
	}
}

// API is the part of the storefront API the flow calls.
type API interface {
	Prices(ctx context.Context) ([]types.Product, error)
	Checkout(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutResponse, error)
}

// Options configures a Flow.
type Options struct {
	// PaymentMethod is echoed on the return URL so the result page knows
	// which family's retry rules apply.
	PaymentMethod string
	// ReturnBaseURL is the origin the payment widget redirects back to.
	ReturnBaseURL string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Flow holds the loaded catalog for one buyer session. It is not safe for
// concurrent use.
type Flow struct {
	api      API
	store    clientstate.Store
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger

	catalog []types.Product
}

// NewFlow creates a Flow over api and store.
func NewFlow(api API, store clientstate.Store, opts Options) *Flow {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.ReturnBaseURL = strings.TrimSuffix(opts.ReturnBaseURL, "/")
	return &Flow{
		api:      api,
		store:    store,
		opts:     opts,
		validate: validator.New(),
		logger:   opts.Logger,
	}
}

// LoadCatalog fetches the active plans. An empty catalog is an error.
func (f *Flow) LoadCatalog(ctx context.Context) ([]types.Product, error) {
	products, err := f.api.Prices(ctx)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to load catalog", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if len(products) == 0 {
		f.logger.WarnContext(ctx, "catalog returned no products")
		return nil, ErrNoPlans
	}
	f.catalog = products
	return products, nil
}

// Catalog returns the plans loaded by LoadCatalog.
func (f *Flow) Catalog() []types.Product {
	return f.catalog
}

// SelectPlan records the buyer's plan choice. The plan must be part of the
// loaded catalog. Changing the plan drops a pending client secret.
func (f *Flow) SelectPlan(ctx context.Context, priceID string) (types.Plan, error) {
	if f.catalog == nil {
		return types.Plan{}, ErrCatalogNotLoaded
	}
	plan, ok := catalog.FindPlan(f.catalog, priceID)
	if !ok {
		return types.Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, priceID)
	}
	_, err := f.store.Update(ctx, func(s *clientstate.RetainedSession) error {
		if s.PriceID != plan.ID {
			s.PendingClientSecret = ""
		}
		s.PriceID = plan.ID
		return nil
	})
	if err != nil {
		return types.Plan{}, fmt.Errorf("saving plan choice: %w", err)
	}
	return plan, nil
}

// ValidEmail reports whether email has a plausible address shape.
func (f *Flow) ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && f.validate.Var(email, "email") == nil
}

// SetEmail records the buyer's email.
func (f *Flow) SetEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !f.ValidEmail(email) {
		return ErrInvalidEmail
	}
	_, err := f.store.Update(ctx, func(s *clientstate.RetainedSession) error {
		if s.Email != email {
			s.PendingClientSecret = ""
		}
		s.Email = email
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving email: %w", err)
	}
	return nil
}

// ResumeOptions carries the query flags the buyer came back with.
type ResumeOptions struct {
	// Retry asks to reopen checkout straight away with the retained plan.
	Retry bool
	// PaymentFailed shows the plans again after a failed payment.
	PaymentFailed bool
}

// ResumeState is what the page should show after Resume.
type ResumeState struct {
	Email        string
	EmailValid   bool
	Plan         *types.Plan
	ShowPricing  bool
	OpenCheckout bool
	// PendingClientSecret is set when a retry already created an intent.
	PendingClientSecret string
}

// Resume re-hydrates the buyer's choices from the retained session. When no
// valid plan is retained the default plan is selected and saved. The catalog
// must be loaded first.
func (f *Flow) Resume(ctx context.Context, opts ResumeOptions) (ResumeState, error) {
	if f.catalog == nil {
		return ResumeState{}, ErrCatalogNotLoaded
	}
	session, err := f.store.Load(ctx)
	if err != nil {
		return ResumeState{}, fmt.Errorf("loading retained session: %w", err)
	}

	state := ResumeState{
		Email:               session.Email,
		EmailValid:          f.ValidEmail(session.Email),
		PendingClientSecret: session.PendingClientSecret,
	}

	if plan, ok := catalog.FindPlan(f.catalog, session.PriceID); ok {
		state.Plan = &plan
		switch {
		case opts.Retry && state.EmailValid:
			state.OpenCheckout = true
			state.ShowPricing = true
		case opts.Retry, opts.PaymentFailed:
			state.ShowPricing = true
		}
		return state, nil
	}

	plan, ok := catalog.DefaultPlan(f.catalog)
	if !ok {
		return state, nil
	}
	state.Plan = &plan
	if _, err := f.store.Update(ctx, func(s *clientstate.RetainedSession) error {
		s.PriceID = plan.ID
		return nil
	}); err != nil {
		return ResumeState{}, fmt.Errorf("saving default plan: %w", err)
	}
	return state, nil
}

// CheckoutStart is what the payment widget needs to collect payment.
type CheckoutStart struct {
	ClientSecret string
	ReturnURL    string
	Plan         types.Plan
}

// StartCheckout creates a payment intent for the retained plan and email. A
// pending client secret left by a retry is consumed instead of creating a
// second intent.
func (f *Flow) StartCheckout(ctx context.Context) (*CheckoutStart, error) {
	session, err := f.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading retained session: %w", err)
	}
	if !session.CanRetry() || !f.ValidEmail(session.Email) {
		return nil, ErrNotReady
	}

	var plan types.Plan
	if f.catalog != nil {
		p, ok := catalog.FindPlan(f.catalog, session.PriceID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, session.PriceID)
		}
		plan = p
	}

	secret := session.PendingClientSecret
	if secret == "" {
		resp, err := f.api.Checkout(ctx, types.CheckoutRequest{PriceID: session.PriceID, Email: session.Email})
		if err != nil {
			f.logger.ErrorContext(ctx, "checkout failed", "price_id", session.PriceID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
		}
		secret = resp.ClientSecret
	} else {
		f.logger.InfoContext(ctx, "reusing pending client secret", "price_id", session.PriceID)
	}

	now := f.opts.Now()
	_, err = f.store.Update(ctx, func(s *clientstate.RetainedSession) error {
		s.PendingClientSecret = ""
		s.SessionID = secret
		s.PaymentIntentID = types.IntentIDFromSecret(secret)
		s.CheckoutStartedAt = now
		s.PaymentTimestamp = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving checkout session: %w", err)
	}

	return &CheckoutStart{
		ClientSecret: secret,
		ReturnURL:    f.returnURL(),
		Plan:         plan,
	}, nil
}

func (f *Flow) returnURL() string {
	q := url.Values{}
	q.Set("payment_type", f.opts.PaymentMethod)
	return f.opts.ReturnBaseURL + "/success?" + q.Encode()
}
