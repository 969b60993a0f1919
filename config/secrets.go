package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSecretNotFound is returned when a secret has no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvironmentSecretStore reads secrets from environment variables. A
// KEY_FILE variable naming a file is used when KEY itself is unset, which
// matches how container orchestrators mount secrets.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	path, ok := os.LookupEnv(key + "_FILE")
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read secret file for %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetWithDefault returns def when the secret cannot be resolved.
func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// ApplySecrets fills credentials from store. Missing secrets leave the
// current values untouched.
func (c *Config) ApplySecrets(ctx context.Context, store SecretStore) error {
	targets := []struct {
		key string
		set func(string)
	}{
		{"LEVELKIT_SQL_DSN", func(v string) { c.Storage.SQL.DSN = v }},
		{"LEVELKIT_REDIS_PASSWORD", func(v string) { c.Storage.Redis.Password = v }},
		{"LEVELKIT_SECURITY_API_KEYS", func(v string) {
			keys := strings.Split(v, ",")
			for i := range keys {
				keys[i] = strings.TrimSpace(keys[i])
			}
			c.Security.APIKeys = keys
		}},
	}
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		t.set(v)
	}
	return nil
}
