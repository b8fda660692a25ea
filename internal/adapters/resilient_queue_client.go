package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
)

var _ ports.QueueClient = (*ResilientQueueClient)(nil)

// ResilientQueueClient gates every call through a circuit breaker and retries
// transient failures. The breaker sees one outcome per call, after retries.
type ResilientQueueClient struct {
	client   ports.QueueClient
	breaker  *resilience.CircuitBreaker
	executor *resilience.Executor
	logger   infrastructure.Logger
	metrics  infrastructure.Metrics
	now      func() time.Time
}

func NewResilientQueueClient(
	client ports.QueueClient,
	breaker *resilience.CircuitBreaker,
	executor *resilience.Executor,
	logger infrastructure.Logger,
	metrics infrastructure.Metrics,
) *ResilientQueueClient {
	return &ResilientQueueClient{
		client:   client,
		breaker:  breaker,
		executor: executor,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (c *ResilientQueueClient) Send(ctx context.Context, msg domain.OutgoingMessage) (domain.SendResult, error) {
	var result domain.SendResult

	err := c.call(ctx, OpSend, func(ctx context.Context) error {
		r, err := c.client.Send(ctx, msg)
		if err != nil {
			return err
		}

		result = r

		return nil
	})

	return result, err
}

func (c *ResilientQueueClient) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]domain.RawMessage, error) {
	var messages []domain.RawMessage

	err := c.call(ctx, OpReceive, func(ctx context.Context) error {
		m, err := c.client.Receive(ctx, maxMessages, waitTime)
		if err != nil {
			return err
		}

		messages = m

		return nil
	})

	return messages, err
}

func (c *ResilientQueueClient) Delete(ctx context.Context, receiptHandle string) error {
	return c.call(ctx, OpDelete, func(ctx context.Context) error {
		return c.client.Delete(ctx, receiptHandle)
	})
}

// Breaker exposes the breaker for health reporting.
func (c *ResilientQueueClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

func (c *ResilientQueueClient) call(ctx context.Context, op string, operation resilience.Operation) error {
	if !c.breaker.CanExecute() {
		snapshot := c.breaker.Snapshot()
		err := &domain.CircuitOpenError{
			Op:          op,
			Failures:    snapshot.FailureCount,
			LastFailure: snapshot.LastFailureTime,
			RetryAfter:  snapshot.RetryAfter(c.breaker.OpenTimeout()),
		}

		c.metrics.RecordQueueOperation(ctx, op, 0, err)

		return err
	}

	started := c.now()

	err := c.executor.Execute(ctx, operation, resilience.Strategy{
		ShouldRetry: domain.IsTransient,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			c.metrics.RecordRetry(ctx, op, attempt)
			c.logger.Warn().
				Err(err).
				Str("operation", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("queue operation failed, retrying")
		},
		OnFailure: func(err error, attempts int) {
			c.logger.Error().
				Err(err).
				Str("operation", op).
				Int("attempts", attempts).
				Msg("queue operation failed")
		},
	})

	c.metrics.RecordQueueOperation(ctx, op, c.now().Sub(started), err)

	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		// the caller gave up; that says nothing about the queue
	default:
		c.breaker.RecordFailure()
	}

	return err
}
