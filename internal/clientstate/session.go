// Package clientstate holds the buyer-side values that survive between
// checkout steps: the chosen plan, email and the in-flight session. The
// record is advisory; the payment provider remains the source of truth and
// every value is re-validated against it.
package clientstate

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("clientstate: store closed")

// RetainedSession is the persisted client state. All fields are opaque to the
// store.
type RetainedSession struct {
	Email           string `json:"email,omitempty"`
	PriceID         string `json:"price_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`

	// SessionID identifies the in-flight checkout, the client secret of the
	// intent that was last handed to the payment widget.
	SessionID           string    `json:"session_id,omitempty"`
	CheckoutStartedAt   time.Time `json:"checkout_started_at,omitzero"`
	PaymentTimestamp    time.Time `json:"payment_timestamp,omitzero"`
	PendingClientSecret string    `json:"pending_client_secret,omitempty"`
}

// ClearPaymentSession forgets the in-flight session after a confirmed
// payment. Email and plan are kept for the next purchase.
func (s *RetainedSession) ClearPaymentSession() {
	s.SessionID = ""
	s.PaymentTimestamp = time.Time{}
}

// Clear resets every field.
func (s *RetainedSession) Clear() {
	*s = RetainedSession{}
}

// CanRetry reports whether enough is retained to recreate a checkout.
func (s RetainedSession) CanRetry() bool {
	return s.PriceID != "" && s.Email != ""
}

// Store persists one RetainedSession. Writes are last-write-wins.
type Store interface {
	// Load returns the stored session, or the zero value when none exists.
	Load(ctx context.Context) (RetainedSession, error)
	// Save replaces the stored session.
	Save(ctx context.Context, s RetainedSession) error
	// Update applies fn to the stored session and saves the result. An error
	// from fn aborts the write.
	Update(ctx context.Context, fn func(*RetainedSession) error) (RetainedSession, error)
	Close() error
}
