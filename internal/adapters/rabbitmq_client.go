package adapters

import (
	"context"
	"errors"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/pkg/queue"
)

const (
	OpSend    = "send"
	OpReceive = "receive"
	OpDelete  = "delete"
)

// Broker is the part of *queue.Client the adapter needs.
type Broker interface {
	Send(ctx context.Context, queueName string, msg queue.Publishing) (string, error)
	Receive(ctx context.Context, queueName string, maxMessages int, waitTime time.Duration) ([]queue.Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}

var _ ports.QueueClient = (*RabbitMQClient)(nil)

// RabbitMQClient binds a broker client to one queue and translates its errors
// into categorized queue errors.
type RabbitMQClient struct {
	broker    Broker
	queueName string
}

func NewRabbitMQClient(broker Broker, queueName string) *RabbitMQClient {
	return &RabbitMQClient{
		broker:    broker,
		queueName: queueName,
	}
}

func (c *RabbitMQClient) Send(ctx context.Context, msg domain.OutgoingMessage) (domain.SendResult, error) {
	messageID, err := c.broker.Send(ctx, c.queueName, queue.Publishing{
		Body:            msg.Body,
		GroupID:         msg.GroupID,
		DeduplicationID: msg.DeduplicationID,
		Headers:         msg.Attributes,
		Delay:           msg.Delay,
	})
	if err != nil {
		return domain.SendResult{}, classify(OpSend, err)
	}

	return domain.SendResult{
		MessageID:       messageID,
		DeduplicationID: msg.DeduplicationID,
	}, nil
}

func (c *RabbitMQClient) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]domain.RawMessage, error) {
	deliveries, err := c.broker.Receive(ctx, c.queueName, maxMessages, waitTime)
	if err != nil {
		return nil, classify(OpReceive, err)
	}

	messages := make([]domain.RawMessage, 0, len(deliveries))
	for _, d := range deliveries {
		messages = append(messages, domain.RawMessage{
			ID:              d.MessageID,
			ReceiptHandle:   d.ReceiptHandle,
			Body:            d.Body,
			Attributes:      d.Headers,
			GroupID:         d.GroupID,
			DeduplicationID: d.DeduplicationID,
			ReceiveCount:    d.ReceiveCount,
			SentAt:          d.Timestamp,
		})
	}

	return messages, nil
}

func (c *RabbitMQClient) Delete(ctx context.Context, receiptHandle string) error {
	if err := c.broker.Delete(ctx, receiptHandle); err != nil {
		return classify(OpDelete, err)
	}

	return nil
}

func classify(op string, err error) error {
	return domain.NewQueueError(op, categorize(err), err)
}

func categorize(err error) domain.ErrorCategory {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.CategoryTimeout
	case errors.Is(err, queue.ErrInvalidReceipt):
		return domain.CategoryInvalidParameter
	case errors.Is(err, queue.ErrStaleReceipt):
		return domain.CategoryNotFound
	case errors.Is(err, queue.ErrClientClosed):
		return domain.CategoryUnknown
	case queue.IsConnectionError(err):
		return domain.CategoryNetwork
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.NotFound:
			return domain.CategoryNotFound
		case amqp.AccessRefused, amqp.PreconditionFailed, amqp.ResourceLocked:
			return domain.CategoryValidation
		case amqp.ResourceError:
			return domain.CategoryThrottling
		case amqp.InternalError, amqp.NotImplemented:
			return domain.CategoryServiceUnavailable
		}

		return domain.CategoryUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.CategoryTimeout
		}

		return domain.CategoryNetwork
	}

	return domain.CategoryUnknown
}
