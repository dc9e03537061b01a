package api

import "net/http"

type providerHealth struct {
	Provider string `json:"provider"`
	Healthy  bool   `json:"healthy"`
	Models   int    `json:"models"`
}

// Health implements GET /health. It is unauthenticated and reports the
// circuit breaker state of every registered provider rather than issuing
// live upstream probes, so it stays cheap enough for aggressive polling.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	providers := make([]providerHealth, 0, len(h.registry.ListProviders()))
	allHealthy := true
	for _, name := range h.registry.ListProviders() {
		p, ok := h.registry.GetProvider(name)
		if !ok {
			continue
		}
		healthy := h.breakers.IsHealthy(name)
		allHealthy = allHealthy && healthy
		providers = append(providers, providerHealth{
			Provider: name,
			Healthy:  healthy,
			Models:   len(p.SupportedModels()),
		})
	}

	status := "ok"
	if !allHealthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "providers": providers})
}
