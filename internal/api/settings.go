package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/gaud-proxy/gaud/internal/apierr"
)

// SettingsStore holds deployment-wide key/value settings editable through
// the admin surface (e.g. default routing strategy, cache TTL overrides).
// Provider credentials never live here; those go through internal/secret.
type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettingsStore creates an empty settings store.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string]string)}
}

func (s *SettingsStore) All(_ context.Context) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *SettingsStore) Set(_ context.Context, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// GetSettings implements GET /admin/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.settings.All(r.Context())})
}

// PutSettings implements PUT /admin/settings: merges the given key/value
// pairs into the existing settings without clearing keys it doesn't mention.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	for k, v := range req {
		h.settings.Set(r.Context(), k, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": h.settings.All(r.Context())})
}
