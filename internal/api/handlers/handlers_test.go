package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/checkout"
	"storefront/internal/core"
	"storefront/internal/reconcile"
	"storefront/internal/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(registrars ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	for _, reg := range registrars {
		reg(r)
	}
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCheckout struct {
	got     checkout.Request
	session *types.CheckoutSession
	err     error
}

func (f *fakeCheckout) Create(_ context.Context, req checkout.Request) (*types.CheckoutSession, error) {
	f.got = req
	return f.session, f.err
}

type fakeCatalog struct {
	products []types.Product
	err      error
}

func (f *fakeCatalog) List(context.Context) ([]types.Product, error) {
	return f.products, f.err
}

type fakeVerifier struct {
	got    reconcile.Request
	result *types.VerificationResult
	err    error
}

func (f *fakeVerifier) Verify(_ context.Context, req reconcile.Request) (*types.VerificationResult, error) {
	f.got = req
	return f.result, f.err
}

// ---------------------------------------------------------------------------
// POST /checkout
// ---------------------------------------------------------------------------

func TestCheckoutHandler_Success(t *testing.T) {
	svc := &fakeCheckout{session: &types.CheckoutSession{ClientSecret: "pi_1_secret_x"}}
	h := newRouter(NewCheckoutHandler(svc, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/checkout", types.CheckoutRequest{PriceID: "price_3m", Email: "test@example.com"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "pi_1_secret_x", resp.ClientSecret)
	assert.Equal(t, checkout.Request{PriceID: "price_3m", Email: "test@example.com"}, svc.got)
}

func TestCheckoutHandler_LegacyPath(t *testing.T) {
	svc := &fakeCheckout{session: &types.CheckoutSession{ClientSecret: "s"}}
	h := newRouter(NewCheckoutHandler(svc, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/create-checkout", types.CheckoutRequest{PriceID: "p", Email: "a@b.co"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckoutHandler_ValidationError(t *testing.T) {
	svc := &fakeCheckout{err: types.NewValidationError(types.ErrCodeValidationMissingField, "Both Price ID and Email are required")}
	h := newRouter(NewCheckoutHandler(svc, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/checkout", types.CheckoutRequest{Email: "a@b.co"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp core.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Both Price ID and Email are required", resp.Error)
}

func TestCheckoutHandler_UpstreamErrorIsGeneric(t *testing.T) {
	svc := &fakeCheckout{err: types.NewAppError(types.ErrCodeUpstreamStripe, "No such price: 'price_x'", nil)}
	h := newRouter(NewCheckoutHandler(svc, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/checkout", types.CheckoutRequest{PriceID: "price_x", Email: "a@b.co"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "price_x")
}

func TestCheckoutHandler_MalformedBody(t *testing.T) {
	svc := &fakeCheckout{}
	h := newRouter(NewCheckoutHandler(svc, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/checkout", `{"priceId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.got.PriceID)
}

// ---------------------------------------------------------------------------
// GET /prices
// ---------------------------------------------------------------------------

func TestPricesHandler(t *testing.T) {
	interval, count := "month", int64(3)
	catalog := &fakeCatalog{products: []types.Product{{
		ID:   "prod_1",
		Name: "Membership",
		Prices: []types.Plan{{
			ID: "price_3m", ProductID: "prod_1", UnitAmount: 2999, Currency: "eur",
			Interval: &interval, IntervalCount: &count, Nickname: "3 month", Active: true,
		}},
	}}}
	h := newRouter(NewPricesHandler(catalog, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodGet, "/prices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.PricesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "3 month", resp.Products[0].Prices[0].Nickname)
	assert.Equal(t, int64(2999), resp.Products[0].Prices[0].UnitAmount)
}

func TestPricesHandler_EmptyCatalogIsEmptyArray(t *testing.T) {
	h := newRouter(NewPricesHandler(&fakeCatalog{}, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodGet, "/prices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":[]}`, rec.Body.String())
}

func TestPricesHandler_ProviderError(t *testing.T) {
	h := newRouter(NewPricesHandler(&fakeCatalog{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)}, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodGet, "/prices", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// ---------------------------------------------------------------------------
// POST /verify-payment
// ---------------------------------------------------------------------------

func TestVerifyHandler_Success(t *testing.T) {
	v := &fakeVerifier{result: &types.VerificationResult{Success: true, Status: "succeeded", Message: "Payment succeeded"}}
	h := newRouter(NewVerifyHandler(v, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/verify-payment", types.VerifyRequest{ID: "pi_1", Type: types.IntentTypePayment, SessionID: "sess"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"status":"succeeded","message":"Payment succeeded"}`, rec.Body.String())
	assert.Equal(t, reconcile.Request{ID: "pi_1", Type: types.IntentTypePayment}, v.got)
}

func TestVerifyHandler_CanceledIs200(t *testing.T) {
	v := &fakeVerifier{result: &types.VerificationResult{Success: false, Status: "canceled", Message: "Payment was canceled"}}
	h := newRouter(NewVerifyHandler(v, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/verify-payment", map[string]string{"id": "pi_x", "type": "payment_intent"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"status":"canceled","message":"Payment was canceled"}`, rec.Body.String())
}

func TestVerifyHandler_ValidationShape(t *testing.T) {
	v := &fakeVerifier{err: types.NewValidationError(types.ErrCodeValidationMissingField, "Missing payment identifier")}
	h := newRouter(NewVerifyHandler(v, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/verify-payment", map[string]string{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Missing payment identifier"}`, rec.Body.String())
}

func TestVerifyHandler_ProviderFailureShape(t *testing.T) {
	v := &fakeVerifier{err: types.NewAppError(types.ErrCodeVerificationFailed, "Error verifying payment status", nil)}
	h := newRouter(NewVerifyHandler(v, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/verify-payment", map[string]string{"id": "pi_1"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t,
		`{"success":false,"message":"Error verifying payment status","error_code":"verification_failed"}`,
		rec.Body.String())
}

func TestVerifyHandler_FailureLogOmitsClientSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	v := &fakeVerifier{err: types.NewAppError(types.ErrCodeVerificationFailed, "Error verifying payment status", nil)}
	h := newRouter(NewVerifyHandler(v, logger).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/verify-payment",
		map[string]string{"id": "pi_1", "session_id": "pi_1_secret_abc"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, buf.String(), "secret_abc")
	assert.Contains(t, buf.String(), `"session_intent_id":"pi_1"`)
}

func TestVerifyHandler_MalformedBody(t *testing.T) {
	v := &fakeVerifier{}
	h := newRouter(NewVerifyHandler(v, discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodPost, "/verify-payment", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp types.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
}

// ---------------------------------------------------------------------------
// GET /client-config
// ---------------------------------------------------------------------------

func TestClientConfigHandler(t *testing.T) {
	h := newRouter(NewClientConfigHandler("pk_test_123", "paypal", discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodGet, "/client-config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"publishableKey":"pk_test_123","paymentMethod":"paypal"}`, rec.Body.String())
}

func TestClientConfigHandler_MissingKey(t *testing.T) {
	h := newRouter(NewClientConfigHandler("", "paypal", discardLogger()).RegisterRoutes)

	rec := doJSON(t, h, http.MethodGet, "/client-config", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
