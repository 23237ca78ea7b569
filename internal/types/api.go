package types

import "strings"

// CheckoutRequest is the body of POST /checkout.
type CheckoutRequest struct {
	PriceID string `json:"priceId"`
	Email   string `json:"email"`
}

// CheckoutResponse is the success body of POST /checkout.
type CheckoutResponse struct {
	Success      bool   `json:"success"`
	ClientSecret string `json:"clientSecret"`
}

// PricesResponse is the body of GET /prices.
type PricesResponse struct {
	Products []Product `json:"products"`
}

// VerifyRequest is the body of POST /verify-payment. SessionID is accepted
// for correlation only; it carries a client secret, so log IntentIDFromSecret
// of it, never the value.
type VerifyRequest struct {
	ID        string     `json:"id"`
	Type      IntentType `json:"type,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// VerifyResponse is every body of POST /verify-payment. ErrorCode is set only
// when the provider could not be consulted.
type VerifyResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ClientConfigResponse is the body of GET /client-config.
type ClientConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
	PaymentMethod  string `json:"paymentMethod"`
}

// IntentIDFromSecret extracts "pi_x" from a client secret of the form
// "pi_x_secret_y". Anything else yields "".
func IntentIDFromSecret(clientSecret string) string {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok {
		return ""
	}
	return id
}
