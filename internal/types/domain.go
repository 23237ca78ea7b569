package types

// Plan is a purchasable price as shown to the buyer. Recurrence fields are
// nil for one-time prices.
type Plan struct {
	ID            string  `json:"id"`
	ProductID     string  `json:"product_id"`
	UnitAmount    int64   `json:"unit_amount"`
	Currency      string  `json:"currency"`
	Interval      *string `json:"interval,omitempty"`
	IntervalCount *int64  `json:"interval_count,omitempty"`
	Nickname      string  `json:"nickname"`
	Active        bool    `json:"active"`
}

// RecursEvery reports whether the plan renews every count intervals.
func (p Plan) RecursEvery(interval string, count int64) bool {
	return p.Interval != nil && *p.Interval == interval &&
		p.IntervalCount != nil && *p.IntervalCount == count
}

// Product groups the active plans of one provider product.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	Prices      []Plan `json:"prices"`
}

// CheckoutSession is one attempt to pay for a plan.
type CheckoutSession struct {
	PriceID         string
	Email           string
	CustomerID      string
	PaymentIntentID string
	ClientSecret    SecretString
	Amount          int64
	Currency        string
}

// IntentType selects which provider object the verifier inspects.
type IntentType string

const (
	IntentTypePayment IntentType = "payment_intent"
	IntentTypeSetup   IntentType = "setup_intent"
)

// Valid reports whether t is one of the recognised intent types.
func (t IntentType) Valid() bool {
	return t == IntentTypePayment || t == IntentTypeSetup
}

// VerificationResult is the outcome of checking an intent's status. It is
// computed fresh on every call and never stored.
type VerificationResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`

	// Warnings lists bookkeeping steps that failed after a confirmed payment.
	Warnings []ReconciliationWarning `json:"-"`
	// Canceled lists sibling intents canceled during reconciliation.
	Canceled []string `json:"-"`
}

// Status messages returned by the verifier.
const (
	MsgSucceeded             = "Payment succeeded"
	MsgProcessing            = "Payment is still processing"
	MsgRequiresPaymentMethod = "Payment method failed, please try again with a different payment method"
	MsgRequiresAction        = "Additional authentication required"
	MsgCanceled              = "Payment was canceled"
	MsgUnknown               = "Payment is in an unknown state"
)

// Intent metadata keys written at checkout and read during reconciliation.
const (
	MetaPriceID        = "price_id"
	MetaProductID      = "product_id"
	MetaEmail          = "email"
	MetaSubscriptionID = "subscription_id"
	MetaIntentStatus   = "payment_intent_status"
	MetaPaymentMethod  = "payment_method_id"
)
