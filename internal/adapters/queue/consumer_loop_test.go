package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/mocks"
	"github.com/architeacher/svc-queue-consumer/internal/service"
)

const (
	testMaxMessages = 10
	testWaitTime    = time.Second
	testPolling     = 50 * time.Millisecond
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.delays...)
}

type ConsumerLoopTestSuite struct {
	suite.Suite

	client  *mocks.QueueClient
	health  *mocks.HealthMonitor
	sleeper *recordingSleeper
	loop    *ConsumerLoop
}

func TestConsumerLoopTestSuite(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(ConsumerLoopTestSuite))
}

func (s *ConsumerLoopTestSuite) SetupTest() {
	s.client = new(mocks.QueueClient)
	s.health = new(mocks.HealthMonitor)
	s.sleeper = &recordingSleeper{}
	s.loop = s.newLoop(s.sleeper.Sleep)
}

func (s *ConsumerLoopTestSuite) TearDownTest() {
	s.client.AssertExpectations(s.T())
	s.health.AssertExpectations(s.T())
}

func (s *ConsumerLoopTestSuite) newLoop(sleep func(context.Context, time.Duration) error) *ConsumerLoop {
	logger := infrastructure.NewTestLogger()
	metrics := &infrastructure.NoOpMetrics{}

	return NewConsumerLoop(
		s.client,
		service.NewProcessingEngine(logger, metrics),
		s.health,
		LoopSettings{
			MaxMessages:     testMaxMessages,
			WaitTime:        testWaitTime,
			PollingInterval: testPolling,
			Processing:      service.ProcessingOptions{Mode: config.ProcessingModeSequential},
		},
		logger,
		metrics,
		WithLoopSleeper(sleep),
	)
}

// stopAfter makes the next receive stop the loop and return nothing.
func (s *ConsumerLoopTestSuite) stopAfter() {
	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).
		Return(nil, nil).
		Run(func(mock.Arguments) { s.loop.Stop() }).
		Once()
}

func failOn(id string) func(context.Context, domain.Body, domain.MessageContext) error {
	return func(_ context.Context, _ domain.Body, msgCtx domain.MessageContext) error {
		if msgCtx.MessageID == id {
			return errors.New("boom")
		}

		return nil
	}
}

func (s *ConsumerLoopTestSuite) TestDeletesOnlySuccessfulMessages() {
	batch := []domain.RawMessage{
		{ID: "A", ReceiptHandle: "1.1", Body: []byte(`{"n":1}`)},
		{ID: "B", ReceiptHandle: "1.2", Body: []byte(`{"n":2}`)},
	}

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).Return(batch, nil).Once()
	s.client.On("Delete", mock.Anything, "1.1").Return(nil).Once()
	s.stopAfter()

	s.health.On("RecordSuccess", mock.AnythingOfType("time.Duration")).Once()
	s.health.On("RecordFailure", mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "message B")
	})).Once()

	err := s.loop.Start(context.Background(), failOn("B"))

	s.Require().NoError(err)
	s.client.AssertNotCalled(s.T(), "Delete", mock.Anything, "1.2")
	s.Equal(LoopStats{Iterations: 2, Received: 2, Deleted: 1}, s.loop.Stats())
	s.Equal(StateStopped, s.loop.State())
	s.Empty(s.sleeper.Delays())
}

func (s *ConsumerLoopTestSuite) TestEmptyReceiveSleepsPollingInterval() {
	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).Return([]domain.RawMessage{}, nil).Once()
	s.stopAfter()

	s.Require().NoError(s.loop.Start(context.Background(), failOn("")))

	s.Equal([]time.Duration{testPolling}, s.sleeper.Delays())
}

func (s *ConsumerLoopTestSuite) TestReceiveFaultBacksOff() {
	receiveErr := domain.NewQueueError("receive", domain.CategoryNetwork, errors.New("connection reset"))

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).Return(nil, receiveErr).Once()
	s.stopAfter()

	s.Require().NoError(s.loop.Start(context.Background(), failOn("")))

	s.Equal([]time.Duration{2 * testPolling}, s.sleeper.Delays())
	s.Equal(int64(1), s.loop.Stats().Faults)
}

func (s *ConsumerLoopTestSuite) TestDeleteFaultIsSurvived() {
	batch := []domain.RawMessage{{ID: "A", ReceiptHandle: "1.1", Body: []byte(`a`)}}

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).Return(batch, nil).Once()
	s.client.On("Delete", mock.Anything, "1.1").Return(errors.New("channel closed")).Once()
	s.stopAfter()

	s.health.On("RecordSuccess", mock.AnythingOfType("time.Duration")).Once()

	s.Require().NoError(s.loop.Start(context.Background(), failOn("")))

	stats := s.loop.Stats()
	s.Equal(int64(1), stats.Faults)
	s.Zero(stats.Deleted)
	s.Equal([]time.Duration{2 * testPolling}, s.sleeper.Delays())
}

func (s *ConsumerLoopTestSuite) TestCancellationEndsLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).
		Return(nil, context.Canceled).
		Run(func(mock.Arguments) { cancel() }).
		Once()

	err := s.loop.Start(ctx, failOn(""))

	s.Require().ErrorIs(err, context.Canceled)
	s.Zero(s.loop.Stats().Faults)
	s.Equal(StateStopped, s.loop.State())
}

func (s *ConsumerLoopTestSuite) TestStartRequiresHandler() {
	err := s.loop.Start(context.Background(), nil)

	s.Require().ErrorIs(err, domain.ErrHandlerRequired)
	s.Equal(StateIdle, s.loop.State())
}

func (s *ConsumerLoopTestSuite) TestSecondStartIsRejectedAndStopWakesSleep() {
	sleeping := make(chan struct{})

	var once sync.Once

	s.loop = s.newLoop(func(ctx context.Context, _ time.Duration) error {
		once.Do(func() { close(sleeping) })
		<-ctx.Done()

		return ctx.Err()
	})

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).Return(nil, nil).Once()

	done := make(chan error, 1)

	go func() {
		done <- s.loop.Start(context.Background(), failOn(""))
	}()

	<-sleeping

	s.Equal(StateRunning, s.loop.State())
	s.Require().ErrorIs(s.loop.Start(context.Background(), failOn("")), domain.ErrAlreadyRunning)

	s.loop.Stop()

	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("consumer loop did not stop")
	}

	s.Equal(StateStopped, s.loop.State())

	// a stopped loop restarts with a fresh handler
	s.stopAfter()

	s.Require().NoError(s.loop.Start(context.Background(), failOn("")))
}

func (s *ConsumerLoopTestSuite) TestStopDuringHandlerFinishesBatch() {
	batch := []domain.RawMessage{{ID: "A", ReceiptHandle: "1.1", Body: []byte(`{"n":1}`)}}

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).Return(batch, nil).Once()
	s.client.On("Delete", mock.Anything, "1.1").Return(nil).Once()
	s.health.On("RecordSuccess", mock.AnythingOfType("time.Duration")).Once()

	var handlerErr error

	err := s.loop.Start(context.Background(), func(ctx context.Context, _ domain.Body, _ domain.MessageContext) error {
		s.loop.Stop()

		handlerErr = ctx.Err()

		return nil
	})

	s.Require().NoError(err)
	s.Require().NoError(handlerErr)
	s.Equal(LoopStats{Iterations: 1, Received: 1, Deleted: 1}, s.loop.Stats())
	s.Equal(StateStopped, s.loop.State())
	s.Empty(s.sleeper.Delays())
}

func (s *ConsumerLoopTestSuite) TestStopDuringReceiveLeavesBatchUnprocessed() {
	batch := []domain.RawMessage{
		{ID: "A", ReceiptHandle: "1.1", Body: []byte(`a`)},
		{ID: "B", ReceiptHandle: "1.2", Body: []byte(`b`)},
	}

	s.client.On("Receive", mock.Anything, testMaxMessages, testWaitTime).
		Return(batch, nil).
		Run(func(mock.Arguments) { s.loop.Stop() }).
		Once()

	handled := 0

	err := s.loop.Start(context.Background(), func(context.Context, domain.Body, domain.MessageContext) error {
		handled++

		return nil
	})

	s.Require().NoError(err)
	s.Zero(handled)
	s.client.AssertNotCalled(s.T(), "Delete", mock.Anything, mock.Anything)
	s.Equal(LoopStats{Iterations: 1}, s.loop.Stats())
	s.Equal(StateStopped, s.loop.State())
}

func TestLoopSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.ServiceConfig{
		Consumer: config.ConsumerConfig{
			MaxMessages:     5,
			WaitTime:        20 * time.Second,
			PollingInterval: time.Second,
		},
		Processing: config.ProcessingConfig{
			Mode:           config.ProcessingModeParallel,
			BatchSize:      4,
			MaxConcurrency: 2,
		},
	}

	settings := LoopSettingsFromConfig(cfg)

	assert.Equal(t, 5, settings.MaxMessages)
	assert.Equal(t, 20*time.Second, settings.WaitTime)
	assert.Equal(t, time.Second, settings.PollingInterval)
	assert.Equal(t, config.ProcessingModeParallel, settings.Processing.Mode)
	assert.Equal(t, 4, settings.Processing.BatchSize)
	assert.Equal(t, 2, settings.Processing.MaxConcurrency)
}
