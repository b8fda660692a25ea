package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, threshold int, timeout time.Duration, clock *fakeClock) *CircuitBreaker {
	t.Helper()

	cb, err := NewCircuitBreaker(Settings{FailureThreshold: threshold, OpenTimeout: timeout}, WithClock(clock.Now))
	require.NoError(t, err)

	return cb
}

func TestCircuitBreaker_OpenHalfOpenClosedCycle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 3, time.Second, clock)

	for range 3 {
		assert.True(t, cb.CanExecute())
		cb.RecordFailure()
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())

	clock.Advance(time.Second)
	assert.False(t, cb.CanExecute(), "timeout must be strictly exceeded")
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	snapshot := cb.Snapshot()
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Zero(t, snapshot.FailureCount)
	assert.Zero(t, snapshot.SuccessCount)
}

func TestCircuitBreaker_FailuresAccumulateWhileClosed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 3, time.Second, clock)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordSuccess()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Snapshot().FailureCount)

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_FailureInHalfOpenReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 2, time.Second, clock)

	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	require.True(t, cb.CanExecute())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_ClosedSuccessesDoNotCountTowardsHalfOpenQuota(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 2, time.Second, clock)

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	require.True(t, cb.CanExecute())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 1, time.Minute, clock)

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	snapshot := cb.Snapshot()
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Zero(t, snapshot.FailureCount)
	assert.Zero(t, snapshot.SuccessCount)
	assert.True(t, snapshot.LastFailureTime.IsZero())
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()

	var transitions []string
	cb, err := NewCircuitBreaker(Settings{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, WithClock(clock.Now))
	require.NoError(t, err)

	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	cb.CanExecute()
	cb.RecordSuccess()
	cb.Reset()

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_RetryAfter(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 1, time.Second, clock)

	assert.True(t, cb.Snapshot().RetryAfter(cb.OpenTimeout()).IsZero())

	cb.RecordFailure()
	assert.Equal(t, clock.Now().Add(time.Second), cb.Snapshot().RetryAfter(cb.OpenTimeout()))
}

func TestNewCircuitBreaker_InvalidSettings(t *testing.T) {
	t.Parallel()

	_, err := NewCircuitBreaker(Settings{FailureThreshold: 0, OpenTimeout: time.Second})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewCircuitBreaker(Settings{FailureThreshold: 1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestCircuitBreaker_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(t, 1000, time.Second, clock)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			for range 10 {
				cb.RecordFailure()
				cb.RecordSuccess()
				cb.CanExecute()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 500, cb.Snapshot().FailureCount)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
