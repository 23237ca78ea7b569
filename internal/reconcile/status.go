package reconcile

import "storefront/internal/types"

// Provider intent statuses with explicit handling.
const (
	StatusSucceeded             = "succeeded"
	StatusProcessing            = "processing"
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresAction        = "requires_action"
	StatusCanceled              = "canceled"
)

// StatusMessage maps a provider status to the buyer-facing message. Unlisted
// statuses get the unknown-state message.
func StatusMessage(status string) string {
	switch status {
	case StatusSucceeded:
		return types.MsgSucceeded
	case StatusProcessing:
		return types.MsgProcessing
	case StatusRequiresPaymentMethod:
		return types.MsgRequiresPaymentMethod
	case StatusRequiresAction:
		return types.MsgRequiresAction
	case StatusCanceled:
		return types.MsgCanceled
	default:
		return types.MsgUnknown
	}
}

// IsSuccessful reports whether a payment intent status counts as paid.
// Processing counts because the buyer has authorised the payment.
func IsSuccessful(status string) bool {
	return status == StatusSucceeded || status == StatusProcessing
}
