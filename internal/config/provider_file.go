package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileSecretProvider implements SecretProvider by reading each key as a file
// path. This matches how container orchestrators mount secrets
// (e.g. /run/secrets/stripe_secret_key).
type FileSecretProvider struct {
	readFile func(name string) ([]byte, error)
}

// NewFileSecretProvider creates a FileSecretProvider backed by the OS filesystem.
func NewFileSecretProvider() *FileSecretProvider {
	return &FileSecretProvider{readFile: os.ReadFile}
}

// GetParametersBatch reads every path in keys. Missing files are omitted from
// the result; any other read error aborts the batch. Trailing newlines are
// trimmed since most secret files are written with one.
func (p *FileSecretProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, path := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := p.readFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading secret %s: %w", path, err)
		}
		result[path] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
