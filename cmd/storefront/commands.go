package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"storefront/internal/clientstate"
	"storefront/internal/poller"
	"storefront/internal/storefront"
	"storefront/internal/types"
)

// errPaymentFailed makes the process exit non-zero after a failure outcome
// has already been printed.
var errPaymentFailed = errors.New("payment not completed")

func (a *app) flow(paymentMethod string) *storefront.Flow {
	return storefront.NewFlow(a.api, a.store, storefront.Options{
		PaymentMethod: paymentMethod,
		ReturnBaseURL: a.cfg.ReturnBaseURL,
		Logger:        a.logger,
	})
}

func plansCmd(a *app) *cobra.Command {
	var retry, paymentFailed bool

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the available plans and the retained selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			flow := a.flow("")

			products, err := flow.LoadCatalog(ctx)
			if err != nil {
				return errors.New(storefront.UserMessage(err))
			}
			state, err := flow.Resume(ctx, storefront.ResumeOptions{Retry: retry, PaymentFailed: paymentFailed})
			if err != nil {
				return err
			}

			if paymentFailed {
				fmt.Fprintln(out, "Your last payment did not go through. Review your plan and try again.")
			}
			for _, product := range products {
				fmt.Fprintf(out, "%s\n", product.Name)
				for _, plan := range product.Prices {
					marker := " "
					if state.Plan != nil && state.Plan.ID == plan.ID {
						marker = "*"
					}
					fmt.Fprintf(out, "  %s %-24s %-12s %s\n", marker, plan.ID, plan.Nickname, formatAmount(plan))
				}
			}
			if state.Email != "" {
				fmt.Fprintf(out, "\nEmail: %s\n", state.Email)
			}
			if state.OpenCheckout {
				fmt.Fprintln(out, "Run `storefront checkout` to continue with the selected plan.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&retry, "retry", false, "Resume a retried checkout")
	cmd.Flags().BoolVar(&paymentFailed, "payment-failed", false, "Show plans after a failed payment")
	return cmd
}

func checkoutCmd(a *app) *cobra.Command {
	var email, priceID string

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Start checkout and print what the payment widget needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			clientCfg, err := a.api.ClientConfig(ctx)
			if err != nil {
				return fmt.Errorf("fetching client configuration: %w", err)
			}

			flow := a.flow(clientCfg.PaymentMethod)
			if _, err := flow.LoadCatalog(ctx); err != nil {
				return errors.New(storefront.UserMessage(err))
			}
			if _, err := flow.Resume(ctx, storefront.ResumeOptions{}); err != nil {
				return err
			}
			if email != "" {
				if err := flow.SetEmail(ctx, email); err != nil {
					return errors.New(storefront.UserMessage(err))
				}
			}
			if priceID != "" {
				if _, err := flow.SelectPlan(ctx, priceID); err != nil {
					return errors.New(storefront.UserMessage(err))
				}
			}

			start, err := flow.StartCheckout(ctx)
			if err != nil {
				return errors.New(storefront.UserMessage(err))
			}

			fmt.Fprintf(out, "Plan:            %s (%s, %s)\n", start.Plan.ID, start.Plan.Nickname, formatAmount(start.Plan))
			fmt.Fprintf(out, "Publishable key: %s\n", clientCfg.PublishableKey)
			fmt.Fprintf(out, "Client secret:   %s\n", start.ClientSecret)
			fmt.Fprintf(out, "Return URL:      %s\n", start.ReturnURL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Buyer email address")
	cmd.Flags().StringVarP(&priceID, "price", "p", "", "Price ID to buy (defaults to the retained or 3-month plan)")
	return cmd
}

func resultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "result [return-url]",
		Short: "Verify the payment the widget redirected back with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			params, err := parseReturn(args[0])
			if err != nil {
				return err
			}

			clientCfg, err := a.api.ClientConfig(ctx)
			if err != nil {
				return fmt.Errorf("fetching client configuration: %w", err)
			}

			p := poller.New(a.api, a.store, poller.Options{
				PaymentMethod: clientCfg.PaymentMethod,
				Logger:        a.logger,
			})
			fmt.Fprintln(out, "Verifying payment...")
			outcome, err := p.Run(ctx, params)
			if err != nil {
				return err
			}

			switch outcome.State {
			case poller.StateSuccess:
				msg := outcome.Message
				if msg == "" {
					msg = types.MsgSucceeded
				}
				fmt.Fprintf(out, "Success: %s\n", msg)
				return nil
			default:
				fmt.Fprintf(out, "Failed: %s\n", outcome.Message)
				if outcome.CanRetry {
					fmt.Fprintln(out, "Run `storefront retry` to try again.")
				}
				return errPaymentFailed
			}
		},
	}
}

func retryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Start a new checkout with the retained plan and email",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := poller.New(a.api, a.store, poller.Options{Logger: a.logger})
			res := p.Retry(cmd.Context())

			out := cmd.OutOrStdout()
			if res.Created {
				fmt.Fprintln(out, "A new checkout is ready.")
			} else {
				fmt.Fprintln(out, "Failed to initialize payment retry. Please choose your plan again.")
			}
			fmt.Fprintf(out, "Next: %s\n", res.Redirect)
			return nil
		},
	}
}

func resetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the retained plan, email and session",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.store.Update(cmd.Context(), func(s *clientstate.RetainedSession) error {
				s.Clear()
				return nil
			})
			return err
		},
	}
}

// parseReturn accepts either the full return URL or just its query string.
func parseReturn(raw string) (poller.Params, error) {
	query := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
	}
	q, err := url.ParseQuery(query)
	if err != nil {
		return poller.Params{}, fmt.Errorf("parsing return URL: %w", err)
	}
	return poller.ParamsFromQuery(q), nil
}

func formatAmount(plan types.Plan) string {
	return fmt.Sprintf("%d.%02d %s", plan.UnitAmount/100, plan.UnitAmount%100, strings.ToUpper(plan.Currency))
}

// newLogger creates a text logger on w; the CLI's stdout is reserved for
// buyer-facing output.
func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
