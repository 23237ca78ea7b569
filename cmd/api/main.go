// Package main is the entry point for the storefront API server.
//
// It loads configuration, builds the Stripe client and the checkout,
// verification and catalog services, mounts their handlers on the core
// chassis, and serves HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/api/handlers"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/core"
	"storefront/internal/external"
	"storefront/internal/metrics"
	"storefront/internal/reconcile"
	"storefront/internal/types"
)

const (
	// rateLimitIdle is how long an unused client bucket is kept.
	rateLimitIdle = 10 * time.Minute
	// rateLimitSweep is how often idle buckets are dropped.
	rateLimitSweep = time.Minute
	// startupPingTimeout bounds the development-mode connectivity check.
	startupPingTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("storefront API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"payment_method", cfg.Checkout.PaymentMethod,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, stripeClient, err := buildServer(ctx, cfg, logger, external.NewStripeHTTPClient())
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.IsDevelopment() {
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		if err := stripeClient.Ping(pingCtx); err != nil {
			logger.Warn("stripe connectivity check failed", "error", err)
		} else {
			logger.Info("stripe connectivity check passed", "test_mode", types.IsTestKey(cfg.Stripe.SecretKey.Unmask()))
		}
		cancel()
	}

	return runHTTPServer(ctx, srv, cfg, logger)
}

// buildServer wires every component onto a core.Server with routes mounted.
// Background work (the rate limiter sweeper) stops when ctx is done.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, httpClient *http.Client) (*core.Server, *external.StripeClient, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	collector := metrics.New()
	srv.Metrics = collector
	srv.MetricsHandler = collector.Handler()

	stripeClient := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey: cfg.Stripe.SecretKey,
		BaseURL:   cfg.Stripe.APIBase,
		Logger:    logger,
	})

	checkoutSvc := checkout.NewService(stripeClient, checkout.Options{
		PaymentMethod:   cfg.Checkout.PaymentMethod,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
		Metrics:         collector,
		Logger:          logger,
	})
	reconciler := reconcile.NewReconciler(stripeClient, cfg.Checkout.PaymentMethod, collector, logger)
	catalogReader := catalog.NewReader(stripeClient, logger)

	if cfg.Stripe.PublishableKey == "" {
		logger.Warn("STRIPE_PUBLISHABLE_KEY is not set; /client-config will answer 503")
	}

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		handlers.NewCheckoutHandler(checkoutSvc, logger).RegisterRoutes,
		handlers.NewPricesHandler(catalogReader, logger).RegisterRoutes,
		handlers.NewVerifyHandler(reconciler, logger).RegisterRoutes,
		handlers.NewClientConfigHandler(cfg.Stripe.PublishableKey, cfg.Checkout.PaymentMethod, logger).RegisterRoutes,
	)

	if cfg.Stripe.WebhookSecret.Unmask() != "" {
		webhookHandler := handlers.NewStripeWebhookHandler(
			&external.StripeVerifier{},
			reconciler,
			collector,
			cfg.Stripe.WebhookSecret,
			logger,
		)
		srv.RouteRegistrars = append(srv.RouteRegistrars, webhookHandler.RegisterRoutes)
	} else {
		logger.Info("STRIPE_WEBHOOK_SECRET is not set; webhook endpoint disabled")
	}

	if cfg.Security.RateLimitRPS > 0 && cfg.Security.RateLimitBurst > 0 {
		limiter := core.NewTokenBucketStore(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, rateLimitIdle)
		go limiter.RunSweeper(ctx, rateLimitSweep)
		srv.RateLimitStore = limiter
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "stripe", Fn: stripeClient.Ping})

	srv.MountRoutes()
	return srv, stripeClient, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
