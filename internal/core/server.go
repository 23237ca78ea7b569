// Package core provides the HTTP chassis for the storefront API. It builds a
// chi router and enforces cross-cutting concerns (panic recovery, request ids,
// logging, CORS, compression, metrics, rate limiting) before requests reach
// the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records request latency and count. route is the matched
	// chi pattern so path parameters never explode label cardinality.
	RecordRequest(method, route, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handler routes on the router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the storefront API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	MetricsHandler http.Handler // served at GET /metrics when non-nil
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// RouteRegistrars are populated by main to avoid an import cycle between
	// core and the handler packages.
	RouteRegistrars []RouteRegistrar

	// Closers are released in order on Shutdown.
	Closers []func() error

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the router. The caller
// mounts routes via MountRoutes after populating the optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources. The HTTP listener itself is shut down
// by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var firstErr error
	for _, closeFn := range s.Closers {
		if err := closeFn(); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing server resource", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("releasing server resource: %w", err)
			}
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return firstErr
}
