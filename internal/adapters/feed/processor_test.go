package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/service"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, payload any, opts service.PublishOptions) (domain.SendResult, error) {
	args := m.Called(ctx, payload, opts)

	return args.Get(0).(domain.SendResult), args.Error(1)
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}

func newTestProcessor(input string, publisher Publisher, cfg config.PublisherConfig) *Processor {
	return NewProcessor(strings.NewReader(input), publisher, cfg, infrastructure.NewTestLogger())
}

func TestProcessor_PublishesEveryLine(t *testing.T) {
	t.Parallel()

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, rawJSON(`{"id":1}`), service.PublishOptions{}).
		Return(domain.SendResult{MessageID: "m-1"}, nil).Once()
	publisher.On("Publish", mock.Anything, rawJSON(`{"id":2}`), service.PublishOptions{}).
		Return(domain.SendResult{}, &domain.DuplicateMessageError{Key: "k"}).Once()
	publisher.On("Publish", mock.Anything, rawJSON(`{"id":3}`), service.PublishOptions{}).
		Return(domain.SendResult{}, errors.New("broker down")).Once()

	input := "{\"id\":1}\n\n  {\"id\":2}  \nnot json\n{\"id\":3}\n"
	processor := newTestProcessor(input, publisher, config.PublisherConfig{Burst: 1})

	require.NoError(t, processor.Start(context.Background()))

	assert.Equal(t, Stats{Lines: 4, Published: 1, Duplicates: 1, Invalid: 1, Failed: 1}, processor.Stats())
	publisher.AssertExpectations(t)
}

func TestProcessor_LineTooLong(t *testing.T) {
	t.Parallel()

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, rawJSON(`{"a":1}`), service.PublishOptions{}).
		Return(domain.SendResult{MessageID: "m-1"}, nil).Once()

	input := "{\"a\":1}\n{\"payload\":\"" + strings.Repeat("x", 64) + "\"}\n"
	processor := newTestProcessor(input, publisher, config.PublisherConfig{Burst: 1, MaxLineBytes: 32})

	err := processor.Start(context.Background())

	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Equal(t, int64(1), processor.Stats().Published)
}

func TestProcessor_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	publisher := new(mockPublisher)
	processor := newTestProcessor("{\"id\":1}\n", publisher, config.PublisherConfig{RatePerSecond: 1, Burst: 1})

	err := processor.Start(ctx)

	require.ErrorIs(t, err, context.Canceled)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_CancelledPublishEndsFeed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, rawJSON(`{"id":1}`), service.PublishOptions{}).
		Run(func(mock.Arguments) { cancel() }).
		Return(domain.SendResult{}, context.Canceled).Once()

	processor := newTestProcessor("{\"id\":1}\n{\"id\":2}\n", publisher, config.PublisherConfig{Burst: 1})

	err := processor.Start(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, processor.Stats().Failed)
	publisher.AssertExpectations(t)
}

func TestNewProcessor_Defaults(t *testing.T) {
	t.Parallel()

	processor := newTestProcessor("", new(mockPublisher), config.PublisherConfig{})

	assert.Equal(t, defaultMaxLineBytes, processor.maxLineBytes)
	assert.Equal(t, 1, processor.limiter.Burst())
	require.NoError(t, processor.Start(context.Background()))
}
