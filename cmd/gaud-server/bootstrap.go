package main

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gaud-proxy/gaud/internal/auth"
	"github.com/gaud-proxy/gaud/internal/config"
)

// bootstrapAdminKey mints the first admin API key when the key store is
// empty, so a fresh deployment has a way in without a manual database
// insert. The generated key is logged once at startup and never
// recoverable afterward, same as any key minted through the admin API.
func bootstrapAdminKey(ctx context.Context, store auth.KeyStore, cfg config.AuthConfig, logger *slog.Logger) {
	if !cfg.Enabled {
		return
	}
	existing, err := store.List(ctx)
	if err != nil {
		logger.Error("failed to check for existing api keys", "error", err)
		return
	}
	if len(existing) > 0 {
		return
	}

	fullKey, lookupHash, storageHash, err := auth.GenerateAPIKey()
	if err != nil {
		logger.Error("failed to generate bootstrap admin key", "error", err)
		return
	}

	adminName := cfg.DefaultAdminName
	if adminName == "" {
		adminName = "admin"
	}

	rec := &auth.APIKeyRecord{
		ID:        uuid.NewString(),
		UserID:    adminName,
		Role:      auth.RoleAdmin,
		KeyHash:   lookupHash,
		ArgonHash: storageHash,
		KeyPrefix: auth.ExtractKeyPrefix(fullKey),
	}
	if err := store.Create(ctx, rec); err != nil {
		logger.Error("failed to store bootstrap admin key", "error", err)
		return
	}

	logger.Warn("generated bootstrap admin key, store it now, it will not be shown again",
		"user_id", adminName, "key", fullKey)
}
