package config

import "context"

// SecretProvider resolves secret references to plaintext values. The loader
// uses it for every VAR_FILE pointer found in the environment.
type SecretProvider interface {
	// GetParametersBatch resolves all keys at once. Returns a map of
	// key -> plaintext value for the keys it could resolve.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
