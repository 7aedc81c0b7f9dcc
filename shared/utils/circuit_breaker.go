package utils

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	// StateClosed lets calls through to the backend
	StateClosed CircuitState = "closed"
	// StateOpen fails calls immediately
	StateOpen CircuitState = "open"
	// StateHalfOpen admits a single probe call
	StateHalfOpen CircuitState = "half-open"
)

var (
	// ErrCircuitOpen is returned while the backend is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned when the half-open probe slot is taken
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// CircuitBreaker stops hammering a failing backend (the revocation ledger,
// a proxied service) so one outage fails requests fast instead of piling up.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	// ignore marks errors that are answers from a healthy backend
	ignore func(error) bool

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// BreakerOption customizes a CircuitBreaker
type BreakerOption func(*CircuitBreaker)

// WithClock overrides the time source
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithIgnoredErrors marks errors that must not count as backend failures
func WithIgnoredErrors(ignore func(error) bool) BreakerOption {
	return func(cb *CircuitBreaker) { cb.ignore = ignore }
}

// NewCircuitBreaker creates a closed breaker that opens after maxFailures
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		ignore:       func(error) bool { return false },
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name identifies the guarded backend in logs
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn unless the circuit is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probeInFlight = false
	}
	if err != nil && !cb.ignore(err) {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	}
	if cb.state == StateHalfOpen {
		if cb.probeInFlight {
			return false, ErrProbeInFlight
		}
		cb.probeInFlight = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.state = StateClosed
	cb.failures = 0
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}
