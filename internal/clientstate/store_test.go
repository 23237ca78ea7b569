package clientstate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipBoltUnderRace skips tests that write through bolt, which aborts the
// race-enabled binary inside the library.
func skipBoltUnderRace(t *testing.T) {
	t.Helper()
	if raceEnabled {
		t.Skip("boltdb/bolt v1.3.1 fails checkptr under -race")
	}
}

func newBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	skipBoltUnderRace(t)
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeContract runs the same behaviour checks against every Store.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("empty load", func(t *testing.T) {
		got, err := newStore(t).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, RetainedSession{}, got)
	})

	t.Run("save and load", func(t *testing.T) {
		s := newStore(t)
		started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		want := RetainedSession{
			Email:             "test@example.com",
			PriceID:           "price_3m",
			SessionID:         "pi_1_secret_x",
			CheckoutStartedAt: started,
			PaymentTimestamp:  started,
		}
		require.NoError(t, s.Save(ctx, want))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Email, got.Email)
		assert.Equal(t, want.PriceID, got.PriceID)
		assert.Equal(t, want.SessionID, got.SessionID)
		assert.True(t, want.CheckoutStartedAt.Equal(got.CheckoutStartedAt))
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, RetainedSession{Email: "a@example.com"}))
		require.NoError(t, s.Save(ctx, RetainedSession{Email: "b@example.com"}))
		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", got.Email)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, RetainedSession{Email: "a@example.com", SessionID: "sec"}))

		got, err := s.Update(ctx, func(rs *RetainedSession) error {
			rs.ClearPaymentSession()
			rs.PriceID = "price_1"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "price_1", got.PriceID)
		assert.Empty(t, got.SessionID)

		loaded, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, got, loaded)
	})

	t.Run("update error aborts write", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, RetainedSession{Email: "keep@example.com"}))

		boom := errors.New("boom")
		_, err := s.Update(ctx, func(rs *RetainedSession) error {
			rs.Email = "lost@example.com"
			return boom
		})
		require.ErrorIs(t, err, boom)

		loaded, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "keep@example.com", loaded.Email)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newStore(t).Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBoltStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return newBoltStore(t) })
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	skipBoltUnderRace(t)
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), RetainedSession{Email: "a@example.com", PriceID: "price_3m"}))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "price_3m", got.PriceID)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRetainedSession_Operations(t *testing.T) {
	rs := RetainedSession{
		Email:            "a@example.com",
		PriceID:          "price_3m",
		SessionID:        "sec",
		PaymentTimestamp: time.Now(),
	}
	assert.True(t, rs.CanRetry())

	rs.ClearPaymentSession()
	assert.Empty(t, rs.SessionID)
	assert.True(t, rs.PaymentTimestamp.IsZero())
	assert.Equal(t, "a@example.com", rs.Email)

	rs.Clear()
	assert.Equal(t, RetainedSession{}, rs)
	assert.False(t, rs.CanRetry())
}
