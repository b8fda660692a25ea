package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/shared/backoff"
)

type (
	// Operation is a unit of work that may be attempted several times.
	Operation func(ctx context.Context) error

	// Strategy customises a retry run. Nil fields fall back to the defaults: retry
	// every error and ignore the hooks.
	Strategy struct {
		ShouldRetry func(err error) bool
		// OnRetry is called before sleeping; attempt is the 1-based number of the
		// attempt that just failed.
		OnRetry func(err error, attempt int, delay time.Duration)
		// OnFailure is called once when the run gives up.
		OnFailure func(err error, attempts int)
	}

	// Sleeper waits for d or until ctx is done.
	Sleeper func(ctx context.Context, d time.Duration) error

	Executor struct {
		maxRetries int
		backoff    backoff.Strategy
		sleep      Sleeper
		now        func() time.Time
	}

	ExecutorOption func(*Executor)

	// RetryError is returned when every permitted attempt failed or the error was
	// not retryable. It unwraps to the last error.
	RetryError struct {
		Attempts int
		LastErr  error
	}

	Attempt struct {
		Number   int
		Success  bool
		Duration time.Duration
		Err      error
		// Delay is the backoff slept after this attempt, zero for the last one.
		Delay time.Duration
	}

	DetailedResult struct {
		Success  bool
		Attempts []Attempt
		Err      error
		Duration time.Duration
	}
)

// DefaultStrategy retries every error.
func DefaultStrategy() Strategy {
	return Strategy{}
}

// TransientStrategy retries only errors classified as transient.
func TransientStrategy() Strategy {
	return Strategy{ShouldRetry: domain.IsTransient}
}

func WithSleeper(sleep Sleeper) ExecutorOption {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func WithBackoff(strategy backoff.Strategy) ExecutorOption {
	return func(e *Executor) {
		e.backoff = strategy
	}
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(cfg config.BackoffConfig, opts ...ExecutorOption) *Executor {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	e := &Executor{
		maxRetries: maxRetries,
		backoff:    backoff.NewExponentialStrategy(cfg),
		sleep:      SleepContext,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("operation failed after %d attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *RetryError) Unwrap() error {
	return e.LastErr
}

// MaxAttempts is MaxRetries + 1.
func (e *Executor) MaxAttempts() int {
	return e.maxRetries + 1
}

// Delay returns the backoff slept after the n-th failed attempt, zero based.
func (e *Executor) Delay(n int) time.Duration {
	return e.backoff.Backoff(n)
}

// Execute runs op until it succeeds, the strategy declines a retry or the attempts
// run out. Cancelling ctx while sleeping between attempts returns ctx.Err().
func (e *Executor) Execute(ctx context.Context, op Operation, strategy Strategy) error {
	result := e.run(ctx, op, strategy, nil)

	return result.Err
}

// ExecuteDetailed behaves like Execute and records every attempt.
func (e *Executor) ExecuteDetailed(ctx context.Context, op Operation, strategy Strategy) DetailedResult {
	attempts := make([]Attempt, 0, e.MaxAttempts())

	result := e.run(ctx, op, strategy, &attempts)
	result.Attempts = attempts

	return result
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), strategy Strategy) (T, error) {
	var value T

	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}

		value = v

		return nil
	}, strategy)

	return value, err
}

func (e *Executor) run(ctx context.Context, op Operation, strategy Strategy, attempts *[]Attempt) DetailedResult {
	started := e.now()

	var lastErr error

	for attempt := 1; attempt <= e.MaxAttempts(); attempt++ {
		attemptStarted := e.now()
		err := op(ctx)
		record := Attempt{
			Number:   attempt,
			Success:  err == nil,
			Duration: e.now().Sub(attemptStarted),
			Err:      err,
		}

		if err == nil {
			appendAttempt(attempts, record)

			return DetailedResult{Success: true, Duration: e.now().Sub(started)}
		}

		lastErr = err

		if attempt == e.MaxAttempts() || !strategy.shouldRetry(err) {
			appendAttempt(attempts, record)
			strategy.onFailure(err, attempt)

			return DetailedResult{
				Err:      &RetryError{Attempts: attempt, LastErr: err},
				Duration: e.now().Sub(started),
			}
		}

		delay := e.Delay(attempt - 1)
		record.Delay = delay
		appendAttempt(attempts, record)

		strategy.onRetry(err, attempt, delay)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return DetailedResult{Err: sleepErr, Duration: e.now().Sub(started)}
		}
	}

	return DetailedResult{Err: &RetryError{Attempts: e.MaxAttempts(), LastErr: lastErr}, Duration: e.now().Sub(started)}
}

func appendAttempt(attempts *[]Attempt, record Attempt) {
	if attempts != nil {
		*attempts = append(*attempts, record)
	}
}

func (s Strategy) shouldRetry(err error) bool {
	if s.ShouldRetry == nil {
		return true
	}

	return s.ShouldRetry(err)
}

func (s Strategy) onRetry(err error, attempt int, delay time.Duration) {
	if s.OnRetry != nil {
		s.OnRetry(err, attempt, delay)
	}
}

func (s Strategy) onFailure(err error, attempts int) {
	if s.OnFailure != nil {
		s.OnFailure(err, attempts)
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
