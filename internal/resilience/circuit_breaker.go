package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
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

var ErrInvalidSettings = errors.New("invalid circuit breaker settings")

type (
	Settings struct {
		// FailureThreshold is the number of failures that opens the circuit. It is
		// also the number of half-open successes needed to close it again.
		FailureThreshold int
		// OpenTimeout is how long the circuit stays open after the last failure.
		OpenTimeout time.Duration
		// OnStateChange is called after every transition, outside the lock.
		OnStateChange func(from, to State)
	}

	// Snapshot is a point-in-time copy of the breaker counters.
	Snapshot struct {
		State           State
		FailureCount    int
		SuccessCount    int
		LastFailureTime time.Time
	}

	CircuitBreaker struct {
		mu sync.Mutex

		state           State
		failureCount    int
		successCount    int
		lastFailureTime time.Time

		failureThreshold int
		openTimeout      time.Duration
		onStateChange    func(from, to State)
		now              func() time.Time
	}

	CircuitBreakerOption func(*CircuitBreaker)
)

// WithClock replaces the time source.
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

func NewCircuitBreaker(settings Settings, opts ...CircuitBreakerOption) (*CircuitBreaker, error) {
	if settings.FailureThreshold < 1 {
		return nil, fmt.Errorf("%w: failure threshold must be positive, got %d", ErrInvalidSettings, settings.FailureThreshold)
	}

	if settings.OpenTimeout <= 0 {
		return nil, fmt.Errorf("%w: open timeout must be positive, got %s", ErrInvalidSettings, settings.OpenTimeout)
	}

	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: settings.FailureThreshold,
		openTimeout:      settings.OpenTimeout,
		onStateChange:    settings.OnStateChange,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb, nil
}

// CanExecute reports whether a call may proceed. An open circuit whose timeout has
// elapsed since the last failure moves to half-open and admits the call.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		cb.mu.Unlock()

		return true
	}

	if cb.now().Sub(cb.lastFailureTime) <= cb.openTimeout {
		cb.mu.Unlock()

		return false
	}

	// The half-open quota counts only successes observed after this point.
	from := cb.transition(StateHalfOpen)
	cb.successCount = 0
	cb.mu.Unlock()

	cb.notify(from, StateHalfOpen)

	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()

	cb.successCount++

	if cb.state != StateHalfOpen || cb.successCount < cb.failureThreshold {
		cb.mu.Unlock()

		return
	}

	from := cb.transition(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state == StateOpen || cb.failureCount < cb.failureThreshold {
		cb.mu.Unlock()

		return
	}

	from := cb.transition(StateOpen)
	cb.mu.Unlock()

	cb.notify(from, StateOpen)
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()

	from := cb.transition(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// RetryAfter is the earliest time an open circuit admits a probe.
func (s Snapshot) RetryAfter(openTimeout time.Duration) time.Time {
	if s.State != StateOpen {
		return time.Time{}
	}

	return s.LastFailureTime.Add(openTimeout)
}

func (cb *CircuitBreaker) OpenTimeout() time.Duration {
	return cb.openTimeout
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) State {
	from := cb.state
	cb.state = to

	return from
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(from, to)
	}
}
