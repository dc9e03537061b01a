package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds one Provider instance per configured backend and the
// factories used to construct them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
	order     []string // registration order, for the "priority" routing strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory registers a constructor for a provider type.
func (r *Registry) RegisterFactory(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

// CreateProvider instantiates and registers a provider from cfg.
func (r *Registry) CreateProvider(cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", cfg.Name, err)
	}

	r.mu.Lock()
	if _, exists := r.providers[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.providers[cfg.Name] = p
	r.mu.Unlock()

	return p, nil
}

// GetProvider returns a registered provider by name.
func (r *Registry) GetProvider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ListProviders returns provider names in registration order.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// modelPrefixes maps a wire model prefix to the provider that owns it.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"kiro:", "kiro"},
	{"litellm:", "litellm"},
	{"claude-", "claude"},
	{"gemini-", "gemini"},
	{"gpt-", "copilot"},
	{"o1", "copilot"},
	{"o3", "copilot"},
}

// CandidatesForModel returns the ordered provider names eligible for model:
// first consult the prefix table; if nothing matches, fall back to every
// provider (in registration order) whose SupportsModel returns true.
func (r *Registry) CandidatesForModel(model string) []string {
	for _, m := range modelPrefixes {
		if strings.HasPrefix(model, m.prefix) {
			r.mu.RLock()
			_, ok := r.providers[m.provider]
			r.mu.RUnlock()
			if ok {
				return []string{m.provider}
			}
			return nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if r.providers[name].SupportsModel(model) {
			out = append(out, name)
		}
	}
	return out
}
