package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/gaud-proxy/gaud/internal/apierr"
	"github.com/gaud-proxy/gaud/internal/auth"
)

type createKeyRequest struct {
	UserID string    `json:"user_id"`
	Role   auth.Role `json:"role"`
}

type createKeyResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	UserID    string    `json:"user_id"`
	Role      auth.Role `json:"role"`
}

// CreateKey implements POST /admin/keys: mints a new API key for a user and
// returns the full key exactly once.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.UserID == "" {
		apierr.Write(w, apierr.BadRequest("user_id is required"))
		return
	}
	role := req.Role
	if role == "" {
		role = auth.RoleUser
	}

	fullKey, lookupHash, storageHash, err := auth.GenerateAPIKey()
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to generate key"))
		return
	}

	rec := &auth.APIKeyRecord{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Role:      role,
		KeyHash:   lookupHash,
		ArgonHash: storageHash,
		KeyPrefix: auth.ExtractKeyPrefix(fullKey),
	}
	if err := h.keys.Create(r.Context(), rec); err != nil {
		apierr.Write(w, apierr.Internal("failed to store key"))
		return
	}

	writeJSON(w, http.StatusOK, createKeyResponse{
		ID:        rec.ID,
		Key:       fullKey,
		KeyPrefix: rec.KeyPrefix,
		UserID:    rec.UserID,
		Role:      rec.Role,
	})
}

// ListKeys implements GET /admin/keys. The raw key is never recoverable
// once minted; only stored metadata and hashes come back here.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	recs, err := h.keys.List(r.Context())
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to list keys"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": recs})
}

// RevokeKey implements DELETE /admin/keys/{id}.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.keys.Revoke(r.Context(), id); err != nil {
		apierr.Write(w, apierr.NotFound("key not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "revoked": true})
}
