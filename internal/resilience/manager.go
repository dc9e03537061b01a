package resilience

import "sync"

// Manager is the per-provider circuit breaker registry. Breakers are
// created lazily and looked up by provider name; the router queries it on
// every dispatch attempt to decide whether a candidate is eligible.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cbConfig CircuitBreakerConfig
}

// ManagerConfig contains configuration for the resilience manager.
type ManagerConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{CircuitBreaker: DefaultCircuitBreakerConfig()}
}

// NewManager creates a new resilience manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		cbConfig: cfg.CircuitBreaker,
	}
}

// GetCircuitBreaker returns or creates a circuit breaker for the given
// provider, via double-checked locking so concurrent first-lookups don't
// race on creation.
func (m *Manager) GetCircuitBreaker(provider string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.breakers[provider]; ok {
		return cb
	}

	cb = NewCircuitBreaker(provider, m.cbConfig)
	m.breakers[provider] = cb
	return cb
}

// IsHealthy reports whether a provider's breaker is anything other than
// Open, for the /health endpoint and router candidate filtering.
func (m *Manager) IsHealthy(provider string) bool {
	return m.GetCircuitBreaker(provider).State() != StateOpen
}

// RecordSuccess records a successful request against a provider's breaker.
func (m *Manager) RecordSuccess(provider string) {
	m.GetCircuitBreaker(provider).RecordSuccess()
}

// RecordFailure records a failed request against a provider's breaker.
func (m *Manager) RecordFailure(provider string) {
	m.GetCircuitBreaker(provider).RecordFailure()
}

// Stats returns the current breaker state for a provider.
func (m *Manager) Stats(provider string) ResilienceStats {
	m.mu.RLock()
	cb, ok := m.breakers[provider]
	m.mu.RUnlock()

	stats := ResilienceStats{Provider: provider}
	if ok {
		stats.CircuitState = cb.State().String()
	} else {
		stats.CircuitState = StateClosed.String()
	}
	return stats
}

// ResilienceStats contains current resilience statistics for a provider.
type ResilienceStats struct {
	Provider     string
	CircuitState string
}
