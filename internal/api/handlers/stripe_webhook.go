package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82"

	"storefront/internal/core"
	"storefront/internal/external"
	"storefront/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// Webhook processing outcomes reported to metrics.
const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookRejected  = "rejected"
	webhookFailed    = "failed"
)

// IntentReconciler runs post-payment bookkeeping for a paid intent.
type IntentReconciler interface {
	ReconcilePaymentIntent(ctx context.Context, pi *stripe.PaymentIntent) ([]types.ReconciliationWarning, []string)
}

// WebhookRecorder counts webhook outcomes.
type WebhookRecorder interface {
	RecordWebhookEvent(eventType, outcome string)
}

// StripeWebhookHandler receives Stripe events. It is called by Stripe
// directly; the Stripe-Signature header is the only authentication.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler IntentReconciler
	metrics    WebhookRecorder
	secret     types.SecretString
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler with the provided dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler IntentReconciler,
	metrics WebhookRecorder,
	secret types.SecretString,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		metrics:    metrics,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events.
//
//  1. Reads body and "Stripe-Signature" header.
//  2. Verifies signature using the webhook signing secret.
//  3. Parses the event.
//  4. For payment_intent.succeeded, runs reconciliation.
//  5. Acknowledges with 200 even when reconciliation records warnings.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.record("unknown", webhookRejected)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		logger.WarnContext(ctx, "missing Stripe-Signature header")
		h.record("unknown", webhookRejected)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookSig, "missing Stripe-Signature header", nil))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret.Unmask()); err != nil {
		logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		h.record("unknown", webhookRejected)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookSig, "webhook signature verification failed", err))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.ErrorContext(ctx, "failed to parse webhook event JSON", "error", err)
		h.record("unknown", webhookRejected)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid webhook event JSON", err))
		return
	}

	eventType := string(event.Type)
	logger.InfoContext(ctx, "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", eventType,
	)

	switch eventType {
	case external.EventPaymentIntentSucceeded:
		h.record(eventType, h.handlePaymentIntentSucceeded(ctx, logger, &event))
	default:
		h.record(eventType, webhookIgnored)
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

// handlePaymentIntentSucceeded decodes the intent and reconciles it. A body
// that cannot be decoded is logged and acknowledged so Stripe does not retry
// it forever.
func (h *StripeWebhookHandler) handlePaymentIntentSucceeded(ctx context.Context, logger *slog.Logger, event *stripe.Event) string {
	if event.Data == nil {
		logger.ErrorContext(ctx, "webhook event has no data", "event_id", event.ID)
		return webhookFailed
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		logger.ErrorContext(ctx, "failed to decode payment intent from webhook",
			"event_id", event.ID,
			"error", err,
		)
		return webhookFailed
	}

	warnings, canceled := h.reconciler.ReconcilePaymentIntent(ctx, &pi)
	logger.InfoContext(ctx, "reconciled payment intent from webhook",
		"event_id", event.ID,
		"payment_intent_id", pi.ID,
		"warnings", len(warnings),
		"canceled_siblings", len(canceled),
	)
	return webhookProcessed
}

func (h *StripeWebhookHandler) record(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(eventType, outcome)
	}
}
