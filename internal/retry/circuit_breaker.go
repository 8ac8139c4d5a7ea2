package retry

import "sync"

// ── Circuit breaker state ────────────────────────────────────────────

// State represents the circuit breaker's operational state.
type State int

const (
	// StateClosed is normal operation: contact attempts go ahead.
	StateClosed State = iota
	// StateOpen means the threshold was reached and the caller should
	// fail over before trying again.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ── Configuration ────────────────────────────────────────────────────

// CircuitBreakerConfig configures a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	// the circuit (default 3).
	MaxFailures int
	// OnTrip is called once each time the breaker opens, with the
	// failure that tripped it.  It runs under the lock, so keep it fast.
	OnTrip func(failures int, err error)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{MaxFailures: 3}
}

// ── CircuitBreaker ───────────────────────────────────────────────────

// CircuitBreaker counts consecutive failures against one server address.
// Any success clears the count; reaching MaxFailures opens the circuit
// and it stays open until [CircuitBreaker.Reset], which the session
// engine calls after rotating to the next address.  There is no timed
// half-open probe: recovery is the failover itself.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	onTrip      func(failures int, err error)
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig()
	}
	maxF := cfg.MaxFailures
	if maxF <= 0 {
		maxF = 3
	}
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxF,
		onTrip:      cfg.OnTrip,
	}
}

// Record counts err as a failure, or a nil err as a success.  It
// reports whether this call opened the circuit.
func (cb *CircuitBreaker) Record(err error) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		return false
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		if cb.onTrip != nil {
			cb.onTrip(cb.failures, err)
		}
		return true
	}
	return false
}

// Open reports whether the failure threshold has been reached.
func (cb *CircuitBreaker) Open() bool {
	return cb.CurrentState() == StateOpen
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// MaxFailures returns the trip threshold.
func (cb *CircuitBreaker) MaxFailures() int { return cb.maxFailures }

// Reset forces the circuit breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}
