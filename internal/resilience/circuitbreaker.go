// Package resilience keeps the embedding path available when a backend
// misbehaves.
//
// Every screening decision rides on an embed call, so a hung or erroring
// backend must be bypassed quickly rather than retried on each transcript
// chunk. [CircuitBreaker] is a three-state breaker (closed → open →
// half-open) that trips after consecutive failures and probes the backend
// again after a cooldown. [EmbeddingsFallback] chains several embedding
// providers, each behind its own breaker, so a tripped primary is skipped in
// favour of the next healthy backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and its cooldown has not yet elapsed, or when the half-open probe
// budget is exhausted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen means the breaker has tripped. Calls are rejected with
	// [ErrCircuitOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. A limited
	// number of calls pass through; all must succeed for the breaker to close,
	// and a single failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages, typically the
	// embedding backend's configured name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker trips. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing probe
	// calls. Default: 15s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls that must all succeed in the
	// half-open state for the breaker to close. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // time of the failure that tripped (or last re-tripped) the breaker
	probes   int       // probe calls admitted while half-open
	probeOKs int       // probe calls that succeeded while half-open
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 15 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call, and returns
// [ErrCircuitOpen] without calling fn otherwise. fn's error (or nil) is
// passed through after the breaker records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.settle(err == nil, probing)
	return err
}

// admit decides whether a call may proceed, moving the breaker from open to
// half-open once the cooldown has elapsed. The probing result tells settle
// whether the call counts toward the half-open probe budget.
func (cb *CircuitBreaker) admit() (probing, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeOKs = 0
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			// Probe budget spent; outcomes are still settling.
			return false, false
		}
		cb.probes++
		return true, true
	}
	return false, true
}

// settle records a call's outcome and applies the resulting transition.
func (cb *CircuitBreaker) settle(succeeded, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !succeeded {
		if probing {
			// One failed probe is enough evidence the backend is still down.
			cb.trip("circuit breaker re-opened from half-open")
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip("circuit breaker opened")
		}
		return
	}

	if probing {
		cb.probeOKs++
		if cb.probeOKs >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeOKs = 0
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// trip moves the breaker to open. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip(msg string) {
	cb.state = StateOpen
	cb.failures = cb.maxFailures
	cb.openedAt = time.Now()
	slog.Warn(msg, "name", cb.name, "consecutive_failures", cb.failures)
}

// State returns the current [State] of the breaker. If the breaker is open
// and the cooldown has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeOKs = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
