package ports

import (
	"context"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
)

// QueueClient is the minimal surface of a managed message queue.
type QueueClient interface {
	Send(ctx context.Context, msg domain.OutgoingMessage) (domain.SendResult, error)
	// Receive returns at most maxMessages, waiting up to waitTime when the queue is empty.
	Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]domain.RawMessage, error)
	// Delete acknowledges a message by its receipt handle.
	Delete(ctx context.Context, receiptHandle string) error
}
