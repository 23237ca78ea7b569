// Package poller decides what the buyer sees after the payment widget hands
// control back. It is a small state machine: every run starts in processing
// and ends in success or failure, re-entering processing on a fixed delay
// while a slow payment method settles.
package poller

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"storefront/internal/clientstate"
	"storefront/internal/reconcile"
	"storefront/internal/types"
)

// State is a poller state.
type State string

const (
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFailure    State = "failure"
)

// Buyer-facing messages for outcomes the server did not word.
const (
	MsgRedirectFailed     = "Your payment was not successful."
	MsgVerifyUnavailable  = "Could not verify payment status"
	MsgIndeterminate      = "Could not determine payment status"
	MsgVerificationFailed = "Payment verification failed"
)

// RetryRedirect is where the buyer is sent after a manual retry.
const RetryRedirect = "/?payment_failed=true"

const (
	DefaultDelay       = 2 * time.Second
	DefaultMaxAttempts = 3
)

// Redirect statuses set by the payment widget on the return URL.
const (
	redirectFailed    = "failed"
	redirectSucceeded = "succeeded"
)

// API is the part of the storefront API the poller calls.
type API interface {
	Verify(ctx context.Context, req types.VerifyRequest) (*types.VerifyResponse, error)
	Checkout(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutResponse, error)
}

// Params are the values the buyer returned with.
type Params struct {
	RedirectStatus string
	PaymentIntent  string
	SetupIntent    string
	PaymentType    string
	// SessionID overrides the retained session id.
	SessionID string
}

// ParamsFromQuery reads Params from a return URL query.
func ParamsFromQuery(q url.Values) Params {
	return Params{
		RedirectStatus: q.Get("redirect_status"),
		PaymentIntent:  q.Get("payment_intent"),
		SetupIntent:    q.Get("setup_intent"),
		PaymentType:    q.Get("payment_type"),
		SessionID:      q.Get("session_id"),
	}
}

// Outcome is the terminal result of Run.
type Outcome struct {
	State   State
	Message string
	Status  string
	// Attempts counts the delayed re-entries into processing.
	Attempts int
	// CanRetry is set only when the payment itself failed, so a new
	// checkout can help: a failed redirect, or a provider verdict without an
	// error code. A transport error or a 500 verification_failed reply leaves
	// it false, since the payment may still have gone through; the browser
	// storefront offered its retry button on those paths as well.
	CanRetry bool
}

// Options configures a Poller.
type Options struct {
	// PaymentMethod is the family whose pending payments are re-polled.
	PaymentMethod string
	Delay         time.Duration
	MaxAttempts   int
	// Sleep waits for d or until ctx is done.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Poller runs the result state machine.
type Poller struct {
	api   API
	store clientstate.Store
	opts  Options
}

// New creates a Poller. Zero option values take the defaults.
func New(api API, store clientstate.Store, opts Options) *Poller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{api: api, store: store, opts: opts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run is the mutable state of one Run.
type run struct {
	state     State
	attempts  int
	sessionID string
}

// Run drives one result page to a terminal state. The returned error is
// non-nil only when ctx ends the sequence; the outcome then stays in
// processing.
func (p *Poller) Run(ctx context.Context, params Params) (Outcome, error) {
	logger := types.LoggerFromContext(ctx, p.opts.Logger)
	r := &run{state: StateProcessing, sessionID: params.SessionID}
	if r.sessionID == "" {
		if session, err := p.store.Load(ctx); err == nil {
			r.sessionID = session.SessionID
		} else {
			logger.WarnContext(ctx, "could not read retained session", "error", err)
		}
	}

	switch {
	case params.RedirectStatus == redirectFailed:
		return p.fail(r, MsgRedirectFailed, "", true), nil
	case params.PaymentIntent != "":
		return p.pollPaymentIntent(ctx, r, params)
	case params.SetupIntent != "":
		return p.checkSetupIntent(ctx, r, params)
	case params.RedirectStatus == redirectSucceeded:
		return p.succeed(ctx, r, "", ""), nil
	default:
		return p.fail(r, MsgIndeterminate, "", false), nil
	}
}

func (p *Poller) pollPaymentIntent(ctx context.Context, r *run, params Params) (Outcome, error) {
	logger := types.LoggerFromContext(ctx, p.opts.Logger)
	req := types.VerifyRequest{ID: params.PaymentIntent, Type: types.IntentTypePayment, SessionID: r.sessionID}

	for {
		resp, err := p.api.Verify(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return p.outcome(r, "", ""), ctx.Err()
			}
			logger.ErrorContext(ctx, "payment verification call failed", "payment_intent", params.PaymentIntent, "error", err)
			return p.fail(r, MsgVerifyUnavailable, "", false), nil
		}

		if resp.Success && reconcile.IsSuccessful(resp.Status) {
			return p.succeed(ctx, r, resp.Message, resp.Status), nil
		}

		if p.shouldRepoll(r, params, resp) {
			r.attempts++
			logger.InfoContext(ctx, "payment not settled, polling again",
				"payment_intent", params.PaymentIntent,
				"status", resp.Status,
				"attempt", r.attempts,
			)
			if err := p.opts.Sleep(ctx, p.opts.Delay); err != nil {
				return p.outcome(r, "", resp.Status), err
			}
			continue
		}

		msg := resp.Message
		if msg == "" {
			msg = MsgVerificationFailed
		}
		return p.fail(r, msg, resp.Status, isPaymentFailure(resp)), nil
	}
}

// shouldRepoll reports whether an unsettled answer earns another look. Only
// the configured family is re-polled, and a canceled intent never is.
func (p *Poller) shouldRepoll(r *run, params Params, resp *types.VerifyResponse) bool {
	return params.PaymentType == p.opts.PaymentMethod &&
		r.attempts < p.opts.MaxAttempts &&
		resp.Status != reconcile.StatusCanceled
}

func (p *Poller) checkSetupIntent(ctx context.Context, r *run, params Params) (Outcome, error) {
	logger := types.LoggerFromContext(ctx, p.opts.Logger)
	resp, err := p.api.Verify(ctx, types.VerifyRequest{
		ID:        params.SetupIntent,
		Type:      types.IntentTypeSetup,
		SessionID: r.sessionID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return p.outcome(r, "", ""), ctx.Err()
		}
		logger.ErrorContext(ctx, "setup verification call failed", "setup_intent", params.SetupIntent, "error", err)
		return p.fail(r, MsgVerifyUnavailable, "", false), nil
	}
	if resp.Success && resp.Status == reconcile.StatusSucceeded {
		return p.succeed(ctx, r, resp.Message, resp.Status), nil
	}
	msg := resp.Message
	if msg == "" {
		msg = MsgVerificationFailed
	}
	return p.fail(r, msg, resp.Status, isPaymentFailure(resp)), nil
}

// isPaymentFailure separates a provider verdict from a failure to reach the
// provider.
func isPaymentFailure(resp *types.VerifyResponse) bool {
	return resp.ErrorCode == "" && resp.Status != ""
}

func (p *Poller) succeed(ctx context.Context, r *run, msg, status string) Outcome {
	r.state = StateSuccess
	_, err := p.store.Update(ctx, func(s *clientstate.RetainedSession) error {
		s.ClearPaymentSession()
		return nil
	})
	if err != nil {
		types.LoggerFromContext(ctx, p.opts.Logger).WarnContext(ctx, "could not clear retained session", "error", err)
	}
	return p.outcome(r, msg, status)
}

func (p *Poller) fail(r *run, msg, status string, canRetry bool) Outcome {
	r.state = StateFailure
	out := p.outcome(r, msg, status)
	out.CanRetry = canRetry
	return out
}

func (p *Poller) outcome(r *run, msg, status string) Outcome {
	return Outcome{State: r.state, Message: msg, Status: status, Attempts: r.attempts}
}

// RetryResult is the effect of a manual retry.
type RetryResult struct {
	Redirect string
	// Created is set when a new client secret was stored as pending.
	Created bool
}

// Retry starts a fresh checkout with the retained plan and email. Whatever
// happens, the buyer is sent back to plan selection; a successful retry
// leaves the new client secret pending so checkout opens on it.
func (p *Poller) Retry(ctx context.Context) RetryResult {
	logger := types.LoggerFromContext(ctx, p.opts.Logger)
	result := RetryResult{Redirect: RetryRedirect}

	session, err := p.store.Load(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "could not read retained session for retry", "error", err)
		return result
	}
	if !session.CanRetry() {
		logger.InfoContext(ctx, "nothing retained to retry with")
		return result
	}

	resp, err := p.api.Checkout(ctx, types.CheckoutRequest{PriceID: session.PriceID, Email: session.Email})
	if err != nil {
		logger.ErrorContext(ctx, "retry checkout failed", "price_id", session.PriceID, "error", err)
		return result
	}

	if _, err := p.store.Update(ctx, func(s *clientstate.RetainedSession) error {
		s.PendingClientSecret = resp.ClientSecret
		return nil
	}); err != nil {
		logger.ErrorContext(ctx, "could not store pending client secret", "error", err)
		return result
	}
	result.Created = true
	return result
}
