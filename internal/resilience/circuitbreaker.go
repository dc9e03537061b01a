// Package resilience implements the per-provider circuit breaker that
// protects the router from hammering an unhealthy upstream.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen admits exactly one probe request.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrProbeInFlight is returned when a second call arrives while a
// Half-Open probe is already outstanding.
var ErrProbeInFlight = errors.New("circuit breaker probe already in flight")

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in Closed
	// before tripping to Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in
	// Half-Open before closing.
	SuccessThreshold int
	// Timeout is how long the circuit stays Open before admitting a probe.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns the values named by spec §4.3: three
// consecutive failures trip the breaker, two consecutive successes in
// Half-Open close it, and it stays Open for 30s before a probe is admitted.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker implements a Closed/Open/Half-Open state machine per
// provider. State transitions are guarded by a single mutex and probe
// admission in Half-Open is exclusive: only one request may be in flight
// while the breaker is testing recovery.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	state         CircuitState
	failureCount  int
	successCount  int
	probeInFlight bool
	openedAt      time.Time
	config        CircuitBreakerConfig
	onStateChange func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		state:  StateClosed,
		config: cfg,
	}
}

// OnStateChange sets a callback for state transitions.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Allow checks if a request should be allowed through. In Half-Open it
// admits exactly one probe; a concurrent second caller is rejected with
// ErrProbeInFlight rather than being queued.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			cb.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.probeInFlight {
			return ErrProbeInFlight
		}
		cb.probeInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.probeInFlight = false
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordNonBreakerOutcome releases a Half-Open probe slot without treating
// the outcome as either a success or a failure, for client errors (4xx
// other than 429) that per spec §4.3 never affect breaker state.
func (cb *CircuitBreaker) RecordNonBreakerOutcome() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.probeInFlight = false
		cb.successCount = 0
		cb.transitionTo(StateOpen)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.probeInFlight = false
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	if newState == StateOpen {
		cb.openedAt = time.Now()
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}
