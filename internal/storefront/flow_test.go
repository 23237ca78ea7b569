package storefront

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront/internal/clientstate"
	"storefront/internal/types"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Prices(ctx context.Context) ([]types.Product, error) {
	args := m.Called(ctx)
	products, _ := args.Get(0).([]types.Product)
	return products, args.Error(1)
}

func (m *mockAPI) Checkout(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*types.CheckoutResponse)
	return resp, args.Error(1)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func testCatalog() []types.Product {
	return []types.Product{{
		ID:     "prod_1",
		Name:   "Membership",
		Active: true,
		Prices: []types.Plan{
			{ID: "price_1m", UnitAmount: 999, Currency: "eur", Interval: ptr("month"), IntervalCount: ptr(int64(1)), Nickname: "1 month"},
			{ID: "price_3m", UnitAmount: 2499, Currency: "eur", Interval: ptr("month"), IntervalCount: ptr(int64(3)), Nickname: "3 month"},
		},
	}}
}

func newFlow(t *testing.T) (*Flow, *mockAPI, *clientstate.MemoryStore) {
	t.Helper()
	api := new(mockAPI)
	store := clientstate.NewMemoryStore()
	flow := NewFlow(api, store, Options{
		PaymentMethod: "paypal",
		ReturnBaseURL: "https://shop.example.com/",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           func() time.Time { return fixedNow },
	})
	return flow, api, store
}

func loadedFlow(t *testing.T) (*Flow, *mockAPI, *clientstate.MemoryStore) {
	t.Helper()
	flow, api, store := newFlow(t)
	api.On("Prices", mock.Anything).Return(testCatalog(), nil).Once()
	_, err := flow.LoadCatalog(context.Background())
	require.NoError(t, err)
	return flow, api, store
}

func TestLoadCatalog(t *testing.T) {
	t.Run("empty catalog", func(t *testing.T) {
		flow, api, _ := newFlow(t)
		api.On("Prices", mock.Anything).Return([]types.Product{}, nil)

		_, err := flow.LoadCatalog(context.Background())
		require.ErrorIs(t, err, ErrNoPlans)
		assert.Equal(t, "No pricing plans are currently available.", UserMessage(err))
	})

	t.Run("transport failure", func(t *testing.T) {
		flow, api, _ := newFlow(t)
		api.On("Prices", mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := flow.LoadCatalog(context.Background())
		require.ErrorIs(t, err, ErrCatalogUnavailable)
		assert.Equal(t, "Failed to load subscription options. Please try again later.", UserMessage(err))
	})

	t.Run("loaded", func(t *testing.T) {
		flow, _, _ := loadedFlow(t)
		assert.Len(t, flow.Catalog(), 1)
	})
}

func TestSelectPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("requires loaded catalog", func(t *testing.T) {
		flow, _, _ := newFlow(t)
		_, err := flow.SelectPlan(ctx, "price_1m")
		assert.ErrorIs(t, err, ErrCatalogNotLoaded)
	})

	t.Run("unknown plan", func(t *testing.T) {
		flow, _, _ := loadedFlow(t)
		_, err := flow.SelectPlan(ctx, "price_gone")
		assert.ErrorIs(t, err, ErrUnknownPlan)
	})

	t.Run("persists choice and drops stale pending secret", func(t *testing.T) {
		flow, _, store := loadedFlow(t)
		require.NoError(t, store.Save(ctx, clientstate.RetainedSession{
			PriceID: "price_3m", PendingClientSecret: "pi_old_secret_x",
		}))

		plan, err := flow.SelectPlan(ctx, "price_1m")
		require.NoError(t, err)
		assert.Equal(t, "price_1m", plan.ID)

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "price_1m", got.PriceID)
		assert.Empty(t, got.PendingClientSecret)
	})
}

func TestSetEmail(t *testing.T) {
	ctx := context.Background()
	flow, _, store := newFlow(t)

	assert.ErrorIs(t, flow.SetEmail(ctx, "not-an-email"), ErrInvalidEmail)
	assert.ErrorIs(t, flow.SetEmail(ctx, "   "), ErrInvalidEmail)

	require.NoError(t, flow.SetEmail(ctx, "  buyer@example.com "))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", got.Email)
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("selects default plan when none retained", func(t *testing.T) {
		flow, _, store := loadedFlow(t)

		state, err := flow.Resume(ctx, ResumeOptions{})
		require.NoError(t, err)
		require.NotNil(t, state.Plan)
		assert.Equal(t, "price_3m", state.Plan.ID)
		assert.False(t, state.ShowPricing)

		got, _ := store.Load(ctx)
		assert.Equal(t, "price_3m", got.PriceID)
	})

	t.Run("retained plan with retry opens checkout", func(t *testing.T) {
		flow, _, store := loadedFlow(t)
		require.NoError(t, store.Save(ctx, clientstate.RetainedSession{
			Email: "buyer@example.com", PriceID: "price_1m", PendingClientSecret: "pi_2_secret_y",
		}))

		state, err := flow.Resume(ctx, ResumeOptions{Retry: true})
		require.NoError(t, err)
		assert.Equal(t, "price_1m", state.Plan.ID)
		assert.True(t, state.EmailValid)
		assert.True(t, state.OpenCheckout)
		assert.True(t, state.ShowPricing)
		assert.Equal(t, "pi_2_secret_y", state.PendingClientSecret)
	})

	t.Run("payment failed shows plans without opening checkout", func(t *testing.T) {
		flow, _, store := loadedFlow(t)
		require.NoError(t, store.Save(ctx, clientstate.RetainedSession{
			Email: "buyer@example.com", PriceID: "price_1m",
		}))

		state, err := flow.Resume(ctx, ResumeOptions{PaymentFailed: true})
		require.NoError(t, err)
		assert.True(t, state.ShowPricing)
		assert.False(t, state.OpenCheckout)
	})

	t.Run("stale retained plan falls back to default", func(t *testing.T) {
		flow, _, store := loadedFlow(t)
		require.NoError(t, store.Save(ctx, clientstate.RetainedSession{PriceID: "price_gone"}))

		state, err := flow.Resume(ctx, ResumeOptions{Retry: true})
		require.NoError(t, err)
		assert.Equal(t, "price_3m", state.Plan.ID)
		assert.False(t, state.OpenCheckout)
	})

	t.Run("no default plan available", func(t *testing.T) {
		flow, api, _ := newFlow(t)
		api.On("Prices", mock.Anything).Return([]types.Product{{
			ID: "prod_x", Prices: []types.Plan{{ID: "price_once", Nickname: "1 one-time"}},
		}}, nil)
		_, err := flow.LoadCatalog(ctx)
		require.NoError(t, err)

		state, err := flow.Resume(ctx, ResumeOptions{})
		require.NoError(t, err)
		assert.Nil(t, state.Plan)
	})
}

func TestStartCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		flow, api, _ := loadedFlow(t)
		_, err := flow.StartCheckout(ctx)
		assert.ErrorIs(t, err, ErrNotReady)
		api.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
	})

	t.Run("creates intent and stamps session", func(t *testing.T) {
		flow, api, store := loadedFlow(t)
		require.NoError(t, flow.SetEmail(ctx, "buyer@example.com"))
		_, err := flow.SelectPlan(ctx, "price_3m")
		require.NoError(t, err)

		api.On("Checkout", mock.Anything, types.CheckoutRequest{PriceID: "price_3m", Email: "buyer@example.com"}).
			Return(&types.CheckoutResponse{Success: true, ClientSecret: "pi_9_secret_z"}, nil)

		start, err := flow.StartCheckout(ctx)
		require.NoError(t, err)
		assert.Equal(t, "pi_9_secret_z", start.ClientSecret)
		assert.Equal(t, "https://shop.example.com/success?payment_type=paypal", start.ReturnURL)
		assert.Equal(t, "price_3m", start.Plan.ID)

		got, _ := store.Load(ctx)
		assert.Equal(t, "pi_9_secret_z", got.SessionID)
		assert.Equal(t, "pi_9", got.PaymentIntentID)
		assert.Equal(t, fixedNow, got.CheckoutStartedAt)
		assert.Equal(t, fixedNow, got.PaymentTimestamp)
		assert.Empty(t, got.PendingClientSecret)
		api.AssertExpectations(t)
	})

	t.Run("consumes pending secret", func(t *testing.T) {
		flow, api, store := loadedFlow(t)
		require.NoError(t, store.Save(ctx, clientstate.RetainedSession{
			Email: "buyer@example.com", PriceID: "price_1m", PendingClientSecret: "pi_5_secret_p",
		}))

		start, err := flow.StartCheckout(ctx)
		require.NoError(t, err)
		assert.Equal(t, "pi_5_secret_p", start.ClientSecret)
		api.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)

		got, _ := store.Load(ctx)
		assert.Empty(t, got.PendingClientSecret)
		assert.Equal(t, "pi_5_secret_p", got.SessionID)
	})

	t.Run("checkout failure keeps session untouched", func(t *testing.T) {
		flow, api, store := loadedFlow(t)
		require.NoError(t, store.Save(ctx, clientstate.RetainedSession{Email: "buyer@example.com", PriceID: "price_1m"}))
		api.On("Checkout", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		_, err := flow.StartCheckout(ctx)
		require.ErrorIs(t, err, ErrCheckoutFailed)

		got, _ := store.Load(ctx)
		assert.Empty(t, got.SessionID)
		assert.True(t, got.CheckoutStartedAt.IsZero())
	})
}
