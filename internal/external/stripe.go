package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront/internal/types"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// stripePageSize is the page size used when auto-paginating list endpoints.
const stripePageSize = 100

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements PaymentProvider by making direct HTTP calls to the
// Stripe REST API through BaseClient and decoding responses into stripe-go
// resource types. Every request shares the BaseClient circuit breaker and
// retry policy.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with the default resilience settings:
// up to 3 network retries with exponential backoff.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"Storefront/1.0",
		WithLogger(logger),
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient configuration.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// FindCustomerByEmail returns the first customer registered under email, or
// nil when none exists.
func (s *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("limit", "1")

	var list stripe.CustomerList
	if err := s.get(ctx, "FindCustomerByEmail", "/v1/customers", params, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return list.Data[0], nil
}

// CreateCustomer creates a customer for email. idempotencyKey collapses
// concurrent creations for the same buyer into a single customer.
func (s *StripeClient) CreateCustomer(ctx context.Context, email, idempotencyKey string) (*stripe.Customer, error) {
	params := url.Values{}
	params.Set("email", email)

	var customer stripe.Customer
	if err := s.post(ctx, "CreateCustomer", "/v1/customers", params, idempotencyKey, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// SetDefaultPaymentMethod makes paymentMethodID the customer's default for
// future invoices.
func (s *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := url.Values{}
	params.Set("invoice_settings[default_payment_method]", paymentMethodID)

	return s.post(ctx, "SetDefaultPaymentMethod", "/v1/customers/"+url.PathEscape(customerID), params, "", nil)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// GetPrice retrieves a price with its product expanded.
func (s *StripeClient) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	params := url.Values{}
	params.Add("expand[]", "product")

	var price stripe.Price
	if err := s.get(ctx, "GetPrice", "/v1/prices/"+url.PathEscape(priceID), params, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// ListActiveProducts returns every active product, following pagination.
func (s *StripeClient) ListActiveProducts(ctx context.Context) ([]*stripe.Product, error) {
	var out []*stripe.Product
	params := url.Values{}
	params.Set("active", "true")

	err := s.paginate(ctx, "ListActiveProducts", "/v1/products", params, func(body []byte) (string, bool, error) {
		var page stripe.ProductList
		if err := json.Unmarshal(body, &page); err != nil {
			return "", false, err
		}
		out = append(out, page.Data...)
		if len(page.Data) == 0 {
			return "", false, nil
		}
		return page.Data[len(page.Data)-1].ID, page.HasMore, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListActivePrices returns every active price with its product expanded,
// following pagination.
func (s *StripeClient) ListActivePrices(ctx context.Context) ([]*stripe.Price, error) {
	var out []*stripe.Price
	params := url.Values{}
	params.Set("active", "true")
	params.Add("expand[]", "data.product")

	err := s.paginate(ctx, "ListActivePrices", "/v1/prices", params, func(body []byte) (string, bool, error) {
		var page stripe.PriceList
		if err := json.Unmarshal(body, &page); err != nil {
			return "", false, err
		}
		out = append(out, page.Data...)
		if len(page.Data) == 0 {
			return "", false, nil
		}
		return page.Data[len(page.Data)-1].ID, page.HasMore, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Payment and setup intents
// ---------------------------------------------------------------------------

// PaymentIntentInput describes a payment intent to create.
type PaymentIntentInput struct {
	Amount             int64
	Currency           string
	CustomerID         string
	PaymentMethodTypes []string
	ReceiptEmail       string
	Metadata           map[string]string
}

// CreatePaymentIntent creates a payment intent. A fresh idempotency key is
// attached so transport retries cannot create duplicates.
func (s *StripeClient) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*stripe.PaymentIntent, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(in.Amount, 10))
	params.Set("currency", in.Currency)
	if in.CustomerID != "" {
		params.Set("customer", in.CustomerID)
	}
	for i, pmt := range in.PaymentMethodTypes {
		params.Set(fmt.Sprintf("payment_method_types[%d]", i), pmt)
	}
	if in.ReceiptEmail != "" {
		params.Set("receipt_email", in.ReceiptEmail)
	}
	setMetadata(params, in.Metadata)

	var pi stripe.PaymentIntent
	if err := s.post(ctx, "CreatePaymentIntent", "/v1/payment_intents", params, uuid.NewString(), &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// GetPaymentIntent retrieves a payment intent with customer and payment
// method expanded.
func (s *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := url.Values{}
	params.Add("expand[]", "customer")
	params.Add("expand[]", "payment_method")

	var pi stripe.PaymentIntent
	if err := s.get(ctx, "GetPaymentIntent", "/v1/payment_intents/"+url.PathEscape(id), params, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// ListCustomerPaymentIntents returns up to limit of the customer's most
// recent payment intents.
func (s *StripeClient) ListCustomerPaymentIntents(ctx context.Context, customerID string, limit int) ([]*stripe.PaymentIntent, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", strconv.Itoa(limit))

	var list stripe.PaymentIntentList
	if err := s.get(ctx, "ListCustomerPaymentIntents", "/v1/payment_intents", params, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// CancelPaymentIntent cancels an open payment intent.
func (s *StripeClient) CancelPaymentIntent(ctx context.Context, id string) error {
	return s.post(ctx, "CancelPaymentIntent", "/v1/payment_intents/"+url.PathEscape(id)+"/cancel", url.Values{}, "", nil)
}

// GetSetupIntent retrieves a setup intent with customer and payment method
// expanded.
func (s *StripeClient) GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	params := url.Values{}
	params.Add("expand[]", "customer")
	params.Add("expand[]", "payment_method")

	var si stripe.SetupIntent
	if err := s.get(ctx, "GetSetupIntent", "/v1/setup_intents/"+url.PathEscape(id), params, &si); err != nil {
		return nil, err
	}
	return &si, nil
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// UpdateSubscriptionPaymentMethod sets the subscription's default payment
// method and merges metadata into it.
func (s *StripeClient) UpdateSubscriptionPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string, metadata map[string]string) error {
	params := url.Values{}
	params.Set("default_payment_method", paymentMethodID)
	setMetadata(params, metadata)

	return s.post(ctx, "UpdateSubscriptionPaymentMethod", "/v1/subscriptions/"+url.PathEscape(subscriptionID), params, "", nil)
}

// ---------------------------------------------------------------------------
// Connectivity
// ---------------------------------------------------------------------------

// Ping retrieves the account balance to prove the key and network path work.
func (s *StripeClient) Ping(ctx context.Context) error {
	var balance stripe.Balance
	return s.get(ctx, "Ping", "/v1/balance", nil, &balance)
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func setMetadata(params url.Values, metadata map[string]string) {
	for k, v := range metadata {
		params.Set("metadata["+k+"]", v)
	}
}

// get performs an authenticated GET and decodes a 200 response into out.
func (s *StripeClient) get(ctx context.Context, op, path string, params url.Values, out any) error {
	resp, err := s.doGet(ctx, path, params)
	if err != nil {
		return s.wrapStripeError(op, err)
	}
	defer resp.Body.Close()
	return s.decode(resp, op, out)
}

// post performs an authenticated form POST and decodes a 200 response into
// out when out is non-nil.
func (s *StripeClient) post(ctx context.Context, op, path string, params url.Values, idempotencyKey string, out any) error {
	resp, err := s.doPost(ctx, path, params, idempotencyKey)
	if err != nil {
		return s.wrapStripeError(op, err)
	}
	defer resp.Body.Close()
	return s.decode(resp, op, out)
}

func (s *StripeClient) decode(resp *http.Response, op string, out any) error {
	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, op)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBadResponse,
			fmt.Sprintf("%s: failed to decode Stripe response", op),
			err,
		)
	}
	return nil
}

// paginate walks a list endpoint with starting_after cursors. page decodes
// one response body and returns the cursor for the next page.
func (s *StripeClient) paginate(
	ctx context.Context,
	op, path string,
	params url.Values,
	page func(body []byte) (lastID string, hasMore bool, err error),
) error {
	params.Set("limit", strconv.Itoa(stripePageSize))

	for {
		resp, err := s.doGet(ctx, path, params)
		if err != nil {
			return s.wrapStripeError(op, err)
		}
		if resp.StatusCode != http.StatusOK {
			err := s.handleErrorResponse(resp, op)
			resp.Body.Close()
			return err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return types.NewAppError(types.ErrCodeUpstreamBadResponse, op+": failed to read Stripe response", err)
		}

		lastID, hasMore, err := page(body)
		if err != nil {
			return types.NewAppError(types.ErrCodeUpstreamBadResponse, op+": failed to decode Stripe response", err)
		}
		if !hasMore || lastID == "" {
			return nil
		}
		params.Set("starting_after", lastID)
	}
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request to the Stripe API with form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and content headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
	RequestLog  string `json:"request_log_url"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBadResponse,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	details := map[string]any{
		"stripe_type": stripeErr.Type,
		"stripe_code": stripeErr.Code,
		"status":      statusCode,
	}
	if stripeErr.Param != "" {
		details["param"] = stripeErr.Param
	}

	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		details["decline_code"] = stripeErr.DeclineCode
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			details,
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
			details,
		)
	case statusCode >= 500:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
			details,
		)
	case statusCode == http.StatusNotFound || stripeErr.Code == "resource_missing":
		return types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundProviderResource,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Message),
			nil,
			details,
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
			details,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient already returns coded AppErrors for breaker and retry failures.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// stripeTimeout is the per-request timeout recommended for Stripe calls.
const stripeTimeout = 20 * time.Second

// NewStripeHTTPClient returns the *http.Client used for Stripe traffic.
func NewStripeHTTPClient() *http.Client {
	return &http.Client{Timeout: stripeTimeout}
}
