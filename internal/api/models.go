package api

import (
	"net/http"
	"time"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels implements GET /v1/models: the union of every registered
// provider's advertised models, tagged with the provider that serves them.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	var data []modelEntry
	for _, name := range h.registry.ListProviders() {
		p, ok := h.registry.GetProvider(name)
		if !ok {
			continue
		}
		for _, model := range p.SupportedModels() {
			data = append(data, modelEntry{ID: model, Object: "model", Created: now, OwnedBy: name})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}
