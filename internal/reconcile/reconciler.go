// Package reconcile verifies intent outcomes and performs the bookkeeping
// that follows a confirmed payment: the customer's default payment method,
// the linked subscription and cancellation of duplicate sibling intents.
//
// Bookkeeping steps are best-effort. Each failure becomes a
// types.ReconciliationWarning that is logged and counted; none of them turn
// a confirmed payment into a failed verification.
package reconcile

import (
	"context"
	"log/slog"
	"slices"

	stripe "github.com/stripe/stripe-go/v82"

	"storefront/internal/types"
)

// SiblingListLimit bounds how many recent customer intents are inspected for
// duplicates.
const SiblingListLimit = 10

const (
	msgMissingID     = "Missing payment identifier"
	msgInvalidType   = "Invalid payment type specified"
	msgVerifyFailure = "Error verifying payment status"
)

// Provider is the subset of the payment provider used for verification.
type Provider interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	UpdateSubscriptionPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string, metadata map[string]string) error
	ListCustomerPaymentIntents(ctx context.Context, customerID string, limit int) ([]*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

// Recorder receives verification and reconciliation counts.
type Recorder interface {
	RecordVerification(intentType, status string)
	RecordReconciliationWarning(step string)
	RecordSiblingsCanceled(n int)
}

// Request identifies the intent to verify. An empty Type means payment_intent.
type Request struct {
	ID   string
	Type types.IntentType
}

// Reconciler verifies intents against the provider.
type Reconciler struct {
	provider      Provider
	paymentMethod string
	metrics       Recorder
	logger        *slog.Logger
}

// NewReconciler creates a Reconciler. paymentMethod is the single family
// checkout sessions are restricted to; sibling cancellation only applies to
// intents created with it.
func NewReconciler(provider Provider, paymentMethod string, metrics Recorder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		provider:      provider,
		paymentMethod: paymentMethod,
		metrics:       metrics,
		logger:        logger,
	}
}

// Verify retrieves the intent named by req and reports whether it counts as
// paid. For a paid intent the bookkeeping steps run before returning.
func (r *Reconciler) Verify(ctx context.Context, req Request) (*types.VerificationResult, error) {
	if req.ID == "" {
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, msgMissingID)
	}
	if req.Type == "" {
		req.Type = types.IntentTypePayment
	}
	if !req.Type.Valid() {
		return nil, types.NewValidationError(types.ErrCodeValidationInvalidType, msgInvalidType)
	}

	if req.Type == types.IntentTypeSetup {
		return r.verifySetupIntent(ctx, req.ID)
	}
	return r.verifyPaymentIntent(ctx, req.ID)
}

func (r *Reconciler) verifyPaymentIntent(ctx context.Context, id string) (*types.VerificationResult, error) {
	pi, err := r.provider.GetPaymentIntent(ctx, id)
	if err != nil {
		return nil, r.verificationFailed(ctx, types.IntentTypePayment, id, err)
	}

	status := string(pi.Status)
	result := &types.VerificationResult{
		Success: IsSuccessful(status),
		Status:  status,
		Message: StatusMessage(status),
	}
	if result.Success {
		result.Warnings, result.Canceled = r.reconcile(ctx, pi)
	}

	r.recordVerification(types.IntentTypePayment, status)
	return result, nil
}

func (r *Reconciler) verifySetupIntent(ctx context.Context, id string) (*types.VerificationResult, error) {
	si, err := r.provider.GetSetupIntent(ctx, id)
	if err != nil {
		return nil, r.verificationFailed(ctx, types.IntentTypeSetup, id, err)
	}

	status := string(si.Status)
	result := &types.VerificationResult{
		Success: status == StatusSucceeded,
		Status:  status,
		Message: StatusMessage(status),
	}
	if result.Success && si.Customer != nil && si.PaymentMethod != nil {
		if err := r.provider.SetDefaultPaymentMethod(ctx, si.Customer.ID, si.PaymentMethod.ID); err != nil {
			result.Warnings = append(result.Warnings, r.warn(ctx, types.StepDefaultPaymentMethod, si.Customer.ID, err))
		}
	}

	r.recordVerification(types.IntentTypeSetup, status)
	return result, nil
}

// ReconcilePaymentIntent runs the post-payment bookkeeping for pi when it
// counts as paid. It is shared by the verification endpoint and the webhook
// receiver.
func (r *Reconciler) ReconcilePaymentIntent(ctx context.Context, pi *stripe.PaymentIntent) ([]types.ReconciliationWarning, []string) {
	if pi == nil || !IsSuccessful(string(pi.Status)) {
		return nil, nil
	}
	return r.reconcile(ctx, pi)
}

// reconcile requires both customer and payment method on the intent. The
// steps run independently; an earlier failure does not skip later steps.
func (r *Reconciler) reconcile(ctx context.Context, pi *stripe.PaymentIntent) ([]types.ReconciliationWarning, []string) {
	if pi.Customer == nil || pi.PaymentMethod == nil || pi.Customer.ID == "" || pi.PaymentMethod.ID == "" {
		return nil, nil
	}
	customerID := pi.Customer.ID
	paymentMethodID := pi.PaymentMethod.ID

	var warnings []types.ReconciliationWarning

	if err := r.provider.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		warnings = append(warnings, r.warn(ctx, types.StepDefaultPaymentMethod, customerID, err))
	}

	subscriptionID := pi.Metadata[types.MetaSubscriptionID]
	if subscriptionID == "" {
		return warnings, nil
	}

	metadata := map[string]string{
		types.MetaIntentStatus:  string(pi.Status),
		types.MetaPaymentMethod: paymentMethodID,
	}
	if err := r.provider.UpdateSubscriptionPaymentMethod(ctx, subscriptionID, paymentMethodID, metadata); err != nil {
		warnings = append(warnings, r.warn(ctx, types.StepSubscriptionUpdate, subscriptionID, err))
	}

	if !slices.Contains(pi.PaymentMethodTypes, r.paymentMethod) {
		return warnings, nil
	}

	canceled, siblingWarnings := r.cancelSiblings(ctx, pi, customerID)
	return append(warnings, siblingWarnings...), canceled
}

// cancelSiblings cancels the customer's other open intents for the same
// price. A failed cancel is recorded and the loop moves on to the next
// sibling.
func (r *Reconciler) cancelSiblings(ctx context.Context, pi *stripe.PaymentIntent, customerID string) ([]string, []types.ReconciliationWarning) {
	priceID := pi.Metadata[types.MetaPriceID]
	if priceID == "" {
		return nil, nil
	}

	intents, err := r.provider.ListCustomerPaymentIntents(ctx, customerID, SiblingListLimit)
	if err != nil {
		return nil, []types.ReconciliationWarning{r.warn(ctx, types.StepSiblingList, customerID, err)}
	}

	var (
		canceled []string
		warnings []types.ReconciliationWarning
	)
	for _, sibling := range intents {
		if !isCancelableSibling(sibling, pi.ID, priceID) {
			continue
		}
		if err := r.provider.CancelPaymentIntent(ctx, sibling.ID); err != nil {
			warnings = append(warnings, r.warn(ctx, types.StepSiblingCancel, sibling.ID, err))
			continue
		}
		canceled = append(canceled, sibling.ID)
	}

	if len(canceled) > 0 {
		types.LoggerFromContext(ctx, r.logger).InfoContext(ctx, "canceled sibling payment intents",
			slog.String("payment_intent_id", pi.ID),
			slog.String("price_id", priceID),
			slog.Any("canceled", canceled),
		)
		if r.metrics != nil {
			r.metrics.RecordSiblingsCanceled(len(canceled))
		}
	}
	return canceled, warnings
}

func isCancelableSibling(candidate *stripe.PaymentIntent, currentID, priceID string) bool {
	if candidate == nil || candidate.ID == currentID {
		return false
	}
	if candidate.Metadata[types.MetaPriceID] != priceID {
		return false
	}
	switch candidate.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusCanceled:
		return false
	}
	return true
}

func (r *Reconciler) warn(ctx context.Context, step types.ReconciliationStep, target string, err error) types.ReconciliationWarning {
	w := types.ReconciliationWarning{Step: step, TargetID: target, Err: err}
	types.LoggerFromContext(ctx, r.logger).WarnContext(ctx, "reconciliation step failed",
		slog.String("step", string(step)),
		slog.String("target_id", target),
		slog.String("error", err.Error()),
	)
	if r.metrics != nil {
		r.metrics.RecordReconciliationWarning(string(step))
	}
	return w
}

func (r *Reconciler) verificationFailed(ctx context.Context, intentType types.IntentType, id string, err error) error {
	types.LoggerFromContext(ctx, r.logger).ErrorContext(ctx, "payment verification failed",
		slog.String("intent_type", string(intentType)),
		slog.String("intent_id", id),
		slog.String("error", err.Error()),
	)
	r.recordVerification(intentType, "error")
	return types.NewAppError(types.ErrCodeVerificationFailed, msgVerifyFailure, err)
}

func (r *Reconciler) recordVerification(intentType types.IntentType, status string) {
	if r.metrics != nil {
		r.metrics.RecordVerification(string(intentType), status)
	}
}
