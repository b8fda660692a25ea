package mocks

import (
	"context"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/stretchr/testify/mock"
)

var _ ports.QueueClient = (*QueueClient)(nil)

type QueueClient struct {
	mock.Mock
}

func (m *QueueClient) Send(ctx context.Context, msg domain.OutgoingMessage) (domain.SendResult, error) {
	args := m.Called(ctx, msg)

	return args.Get(0).(domain.SendResult), args.Error(1)
}

func (m *QueueClient) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]domain.RawMessage, error) {
	args := m.Called(ctx, maxMessages, waitTime)

	messages, _ := args.Get(0).([]domain.RawMessage)

	return messages, args.Error(1)
}

func (m *QueueClient) Delete(ctx context.Context, receiptHandle string) error {
	args := m.Called(ctx, receiptHandle)

	return args.Error(0)
}
