package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal — requests pass through
	StateOpen                         // Tripped — requests are rejected
	StateHalfOpen                     // Probing — one request allowed
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards the token proxy endpoint: after enough consecutive
// provisioning failures it fails fast instead of re-dialing a proxy that is
// known to be down, and probes again after a cooldown.
type CircuitBreaker struct {
	mu sync.Mutex

	state               CircuitState
	failureThreshold    int
	consecutiveFailures int
	cooldown            time.Duration
	lastFailure         time.Time

	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
}

// CircuitBreakerConfig holds configuration for a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures to trip
	Cooldown         time.Duration // Time to wait before probing
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
	}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without
// calling fn when the circuit is open and the cooldown has not elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		cb.mu.Lock()
		cb.totalRejected++
		cb.mu.Unlock()
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// recordFailure must be called with mu held.
func (cb *CircuitBreaker) recordFailure() {
	cb.consecutiveFailures++
	cb.totalFailures++
	cb.lastFailure = time.Now()

	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// recordSuccess must be called with mu held.
func (cb *CircuitBreaker) recordSuccess() {
	cb.totalSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}
}
