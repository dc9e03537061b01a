package main

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gaud-proxy/gaud/internal/budget"
	"github.com/gaud-proxy/gaud/internal/config"
	"github.com/gaud-proxy/gaud/internal/secret"
	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

// newTokenStore builds the OAuth token store selected by
// ProviderOpsConfig.StorageBackend, falling back to an in-memory store on
// any setup failure so a single misconfigured backend doesn't stop the
// process from serving requests that don't need OAuth-backed providers.
func newTokenStore(ctx context.Context, cfg config.ProviderOpsConfig, secrets *secret.Manager, logger *slog.Logger) tokenstore.Store {
	switch cfg.StorageBackend {
	case "keyring":
		return tokenstore.NewKeyringStore()
	case "memory":
		return tokenstore.NewMemoryStore()
	case "file", "":
		dir := cfg.TokenStorageDir
		if dir == "" {
			dir = "~/.gaud/tokens"
		}
		if expanded, err := expandHome(dir); err == nil {
			dir = expanded
		}
		store := tokenstore.NewFileStore(dir)
		if cfg.TokenEncryptionKey == "" {
			return store
		}
		secretVal, err := secrets.Get(ctx, cfg.TokenEncryptionKey)
		if err != nil {
			logger.Warn("failed to resolve token encryption key, storing tokens unencrypted", "error", err)
			return store
		}
		key := sha256.Sum256([]byte(secretVal))
		return store.WithEncryption(key[:])
	default:
		logger.Warn("unknown token storage backend, falling back to memory", "backend", cfg.StorageBackend)
		return tokenstore.NewMemoryStore()
	}
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// newBudgetStore builds the budget/usage store, backed by Postgres when
// DatabaseConfig.Enabled and falling back to an in-memory store for
// single-process deployments. cfg.Password is resolved through secrets so
// operators can point it at env:// or vault:// instead of a plaintext
// value in the config file, the same as provider API keys.
func newBudgetStore(ctx context.Context, cfg config.DatabaseConfig, secrets *secret.Manager, logger *slog.Logger) budget.Store {
	if !cfg.Enabled {
		return budget.NewMemoryStore()
	}

	password, err := secrets.Get(ctx, cfg.Password)
	if err != nil {
		logger.Error("failed to resolve database secret, falling back to in-memory store", "error", err)
		return budget.NewMemoryStore()
	}

	store, err := budget.NewPostgresStore(&budget.PostgresConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: password,
		Database: cfg.Database,
		SSLMode:  cfg.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to budget database, falling back to in-memory store", "error", err)
		return budget.NewMemoryStore()
	}
	return store
}
