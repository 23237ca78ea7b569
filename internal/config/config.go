// Package config defines the configuration for the storefront API server and
// the storefront client. Configuration is loaded once at process start and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Files (Lowest)
//
// Any missing required value or invalid format causes startup to fail.
package config

import (
	"time"

	"storefront/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration for the API server.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Stripe   StripeConfig
	Checkout CheckoutConfig
	Security SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsDevelopment reports whether the process runs in a developer environment.
// Development mode enables stack traces in error logs and the startup
// connectivity check against the payment provider.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "local" || c.Environment == "dev"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	PublicBaseURL  string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	ShutdownGrace  time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
}

// StripeConfig holds payment provider credentials.
type StripeConfig struct {
	SecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	// PublishableKey is handed to the browser. When empty, /client-config
	// answers 503 and a warning is logged at startup.
	PublishableKey string       `envconfig:"STRIPE_PUBLISHABLE_KEY"`
	WebhookSecret  SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	// APIBase overrides the provider endpoint (stripe-mock, tests).
	APIBase string `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"required,url"`
}

// CheckoutConfig holds the checkout policy.
type CheckoutConfig struct {
	// PaymentMethod is the single payment method family offered at checkout.
	PaymentMethod   string `envconfig:"CHECKOUT_PAYMENT_METHOD" default:"paypal" validate:"required,lowercase"`
	DefaultCurrency string `envconfig:"CHECKOUT_DEFAULT_CURRENCY" default:"eur" validate:"required,len=3,lowercase"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RateLimitRPS       float64  `envconfig:"RATE_LIMIT_RPS" default:"5" validate:"gte=0"`
	RateLimitBurst     int      `envconfig:"RATE_LIMIT_BURST" default:"10" validate:"gte=0"`
}

// ClientConfig configures the storefront client binary.
type ClientConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	APIURL    string `envconfig:"STOREFRONT_API_URL" default:"http://localhost:8080" validate:"required,url"`
	StatePath string `envconfig:"STOREFRONT_STATE_PATH" default:"storefront.db" validate:"required"`
	// ReturnBaseURL is where the payment widget sends the buyer back to.
	ReturnBaseURL string `envconfig:"STOREFRONT_RETURN_URL" default:"http://localhost:3000" validate:"required,url"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when reading secret files.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
