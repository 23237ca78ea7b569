package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/external"
	"storefront/internal/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL + "/",
		HTTPClient: srv.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options:    []external.BaseClientOption{external.WithSleepFunc(func(time.Duration) {})},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPrices_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, types.PricesResponse{Products: []types.Product{
			{ID: "prod_1", Name: "Plan", Prices: []types.Plan{{ID: "price_1"}}},
		}})
	})

	products, err := c.Prices(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "price_1", products[0].Prices[0].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPrices_ErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Route not found", "code": "not_found_route", "request_id": "req-1",
		})
	})

	_, err := c.Prices(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found_route", apiErr.Code)
	assert.Equal(t, "Route not found", apiErr.Message)
	assert.Equal(t, "req-1", apiErr.RequestID)
}

func TestCheckout_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout", r.URL.Path)
		var req types.CheckoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "price_1", req.PriceID)
		assert.Equal(t, "buyer@example.com", req.Email)
		writeJSON(w, http.StatusOK, types.CheckoutResponse{Success: true, ClientSecret: "pi_1_secret_x"})
	})

	resp, err := c.Checkout(context.Background(), types.CheckoutRequest{PriceID: "price_1", Email: "buyer@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret_x", resp.ClientSecret)
}

func TestCheckout_NotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "An unexpected error occurred. Please try again.", "code": "upstream_stripe_error",
		})
	})

	_, err := c.Checkout(context.Background(), types.CheckoutRequest{PriceID: "price_1", Email: "a@b.co"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "upstream_stripe_error", apiErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCheckout_ValidationError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Both Price ID and Email are required", "code": "validation_missing_required_field",
		})
	})

	_, err := c.Checkout(context.Background(), types.CheckoutRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Both Price ID and Email are required", apiErr.Message)
}

func TestVerify_ReturnsVerdictForEveryKnownStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   types.VerifyResponse
	}{
		{"succeeded", http.StatusOK, types.VerifyResponse{Success: true, Status: "succeeded", Message: types.MsgSucceeded}},
		{"bad request", http.StatusBadRequest, types.VerifyResponse{Message: "Missing payment identifier"}},
		{"provider failure", http.StatusInternalServerError, types.VerifyResponse{
			Message: "Error verifying payment status", ErrorCode: "verification_failed",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				assert.Equal(t, "/verify-payment", r.URL.Path)
				writeJSON(w, tt.status, tt.body)
			})

			got, err := c.Verify(context.Background(), types.VerifyRequest{ID: "pi_1", Type: types.IntentTypePayment})
			require.NoError(t, err)
			assert.Equal(t, tt.body, *got)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestVerify_UnexpectedStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow down", "code": "rate_limit_exceeded"})
	})

	_, err := c.Verify(context.Background(), types.VerifyRequest{ID: "pi_1"})
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

func TestVerify_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := c.Verify(context.Background(), types.VerifyRequest{ID: "pi_1"})
	require.Error(t, err)
	assert.True(t, types.AsAppError(err).Code.IsUpstream())
}

func TestClientConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/client-config", r.URL.Path)
		writeJSON(w, http.StatusOK, types.ClientConfigResponse{PublishableKey: "pk_test_1", PaymentMethod: "paypal"})
	})

	cfg, err := c.ClientConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pk_test_1", cfg.PublishableKey)
	assert.Equal(t, "paypal", cfg.PaymentMethod)
}
