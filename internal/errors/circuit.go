package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests fail fast.
	StateOpen
	// StateHalfOpen is when the circuit is probing for recovery.
	StateHalfOpen
)

func (s State) String() string {
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

// CircuitBreaker protects a dependency against cascading failures by
// failing fast once it has seen maxFailures consecutive errors.
// One breaker exists per dependency (embedding, LLM, vector, graph).
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets the cool-off before a half-open probe.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// NewCircuitBreaker creates a circuit breaker with the given name.
// Default: 5 failures, 60 second reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}

// effectiveState folds the reset timeout into the stored state: an open
// circuit whose cool-off has elapsed reports half-open. Caller holds mu.
func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState() != StateOpen
}

// RecordSuccess records a successful request and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.settle(nil)
}

// RecordFailure records a failed request, opening the circuit once the
// failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.settle(ErrCircuitOpen)
}

// admit decides whether a call may proceed, promoting to half-open when
// the cool-off has elapsed. The returned state is the one the call runs
// under.
func (cb *CircuitBreaker) admit() (State, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.effectiveState()
	if state == StateOpen {
		return state, false
	}
	cb.state = state
	return state, true
}

// settle records a call outcome. A half-open probe failure re-opens the
// circuit immediately; success closes it and clears the failure count.
// Caller holds mu.
func (cb *CircuitBreaker) settle(err error) {
	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		return
	}

	cb.lastFailure = time.Now()
	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen without invoking fn if the circuit is open.
// The first call after the reset timeout is the half-open probe:
// success closes the circuit, failure re-opens it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if _, ok := cb.admit(); !ok {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	cb.settle(err)
	cb.mu.Unlock()
	return err
}

// ExecuteWithResult runs a function returning a value through the
// circuit breaker. If the circuit is open the fallback is called
// instead of fn; a failed half-open probe also falls back. Closed-state
// failures propagate so callers see the real error.
func ExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	state, ok := cb.admit()
	if !ok {
		return fallback()
	}

	result, err := fn()

	cb.mu.Lock()
	cb.settle(err)
	cb.mu.Unlock()

	if err != nil {
		if state == StateHalfOpen {
			return fallback()
		}
		return result, err
	}
	return result, nil
}
