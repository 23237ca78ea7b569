// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Resolve VAR_FILE pointers through the SecretProvider and inject the
//     values back into the environment.
//  4. Use envconfig to process struct tags and populate the struct.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by the loaders.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretFileSuffix marks pointer variables. STRIPE_SECRET_KEY_FILE holds the
// path whose contents become STRIPE_SECRET_KEY.
const secretFileSuffix = "_FILE"

// secretFileKeys lists the variables that may be supplied through a file.
var secretFileKeys = []string{
	"STRIPE_SECRET_KEY",
	"STRIPE_WEBHOOK_SECRET",
	"STRIPE_PUBLISHABLE_KEY",
}

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the API server configuration. A nil provider
// uses the filesystem for VAR_FILE pointers.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	var cfg Config
	if err := load(provider, deps, &cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()
	return &cfg, nil
}

// LoadClientConfig loads and validates the storefront client configuration.
func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := load(nil, defaultDeps(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(provider SecretProvider, deps loaderDeps, target any) error {
	time.Local = time.UTC

	// godotenv does not override variables that are already set.
	_ = deps.dotenv()

	if provider == nil {
		provider = NewFileSecretProvider()
	}
	if err := resolveSecretFiles(provider, deps); err != nil {
		return err
	}

	if err := envconfig.Process("", target); err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(target); err != nil {
		typ := ErrValidation
		if isRequiredFailure(err) {
			typ = ErrMissingEnv
		}
		return &ConfigError{
			Type:    typ,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// isRequiredFailure reports whether every validation failure is a missing
// required value.
func isRequiredFailure(err error) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() != "required" {
			return false
		}
	}
	return true
}

// resolveSecretFiles reads the secrets referenced by KEY_FILE pointers via
// the provider and injects them so that envconfig can process them. A target
// variable already present in the environment wins over its file pointer.
func resolveSecretFiles(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	var paths []string

	for _, target := range secretFileKeys {
		path, ok := deps.lookupEnv(target + secretFileSuffix)
		if !ok || path == "" {
			continue
		}
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		pathToTarget[path] = target
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret files", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		target := pathToTarget[path]
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret files not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
