package runtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/architeacher/svc-queue-consumer/internal/adapters"
	"github.com/architeacher/svc-queue-consumer/internal/adapters/middleware"
	"github.com/architeacher/svc-queue-consumer/internal/adapters/queue"
	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/mocks"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
	"github.com/architeacher/svc-queue-consumer/internal/service"
)

type stubFeed struct {
	err   error
	block bool
}

func (f stubFeed) Start(ctx context.Context) error {
	if f.block {
		<-ctx.Done()

		return ctx.Err()
	}

	return f.err
}

func newTestDependencies() *Dependencies {
	return &Dependencies{
		cfg: &config.ServiceConfig{
			AppConfig:   config.AppConfig{ServiceVersion: "1.2.3"},
			AdminServer: config.AdminServerConfig{ShutdownTimeout: time.Second},
			Consumer:    config.ConsumerConfig{StopTimeout: time.Second},
		},
		logger:             infrastructure.NewTestLogger(),
		Infra:              InfrastructureDeps{Metrics: &infrastructure.NoOpMetrics{}},
		Health:             adapters.NewHealthMonitor(infrastructure.NewTestLogger()),
		tracerShutdownFunc: func(context.Context) error { return nil },
	}
}

func TestNewPublisher(t *testing.T) {
	t.Parallel()

	t.Run("creates publisher context with default values", func(t *testing.T) {
		t.Parallel()

		publisherCtx := NewPublisher()

		require.NotNil(t, publisherCtx)
		require.NotNil(t, publisherCtx.shutdownChannel)
		require.Equal(t, os.Stdin, publisherCtx.input)
		require.Nil(t, publisherCtx.deps)
	})

	t.Run("creates publisher context with options", func(t *testing.T) {
		t.Parallel()

		ch := make(chan os.Signal, 1)
		input := bytes.NewBufferString("{}\n")
		publisherCtx := NewPublisher(WithPublisherTermination(ch), WithPublisherInput(input))

		require.NotNil(t, publisherCtx)
		require.Equal(t, ch, publisherCtx.shutdownChannel)
		require.Equal(t, input, publisherCtx.input)
	})
}

func TestNewSubscriber(t *testing.T) {
	t.Parallel()

	t.Run("creates subscriber context with default values", func(t *testing.T) {
		t.Parallel()

		subscriberCtx := NewSubscriber()

		require.NotNil(t, subscriberCtx)
		require.NotNil(t, subscriberCtx.shutdownChannel)
		require.Nil(t, subscriberCtx.deps)
	})

	t.Run("creates subscriber context with options", func(t *testing.T) {
		t.Parallel()

		ch := make(chan os.Signal, 1)
		subscriberCtx := NewSubscriber(WithSubscriberTermination(ch))

		require.NotNil(t, subscriberCtx)
		require.Equal(t, ch, subscriberCtx.shutdownChannel)
	})
}

func TestPublisherCtx_Shutdown(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, feed stubFeed, signal bool) error {
		t.Helper()

		publisherCtx := NewPublisher()
		publisherCtx.deps = newTestDependencies()
		publisherCtx.deps.Workers.Feed = feed
		publisherCtx.backgroundActorCtx, publisherCtx.backgroundActorStopFunc = context.WithCancel(context.Background())

		publisherCtx.start()

		if signal {
			publisherCtx.shutdownChannel <- syscall.SIGTERM
		}

		return publisherCtx.shutdown()
	}

	t.Run("end of input", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, run(t, stubFeed{}, false))
	})

	t.Run("feed error is returned", func(t *testing.T) {
		t.Parallel()

		err := run(t, stubFeed{err: errors.New("failed to read feed")}, false)

		assert.EqualError(t, err, "failed to read feed")
	})

	t.Run("signal cancels the feed", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, run(t, stubFeed{block: true}, true))
	})
}

func TestSubscriberCtx_ShutdownStopsConsumer(t *testing.T) {
	t.Parallel()

	client := new(mocks.QueueClient)
	client.On("Receive", mock.Anything, 10, time.Second).Return(nil, nil)

	deps := newTestDependencies()
	logger := infrastructure.NewTestLogger()

	loop := queue.NewConsumerLoop(
		client,
		service.NewProcessingEngine(logger, deps.Infra.Metrics),
		deps.Health,
		queue.LoopSettings{MaxMessages: 10, WaitTime: time.Second, PollingInterval: time.Hour},
		logger,
		deps.Infra.Metrics,
	)
	deps.Workers.Consumer = queue.NewRunner(loop, queue.NewLoggingWorker(logger).Handle)

	subscriberCtx := NewSubscriber()
	subscriberCtx.deps = deps
	subscriberCtx.backgroundActorCtx, subscriberCtx.backgroundActorStopFunc = context.WithCancel(context.Background())

	subscriberCtx.start()

	require.Eventually(t, func() bool {
		return loop.State() == queue.StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	subscriberCtx.shutdownChannel <- syscall.SIGTERM

	done := make(chan struct{})

	go func() {
		subscriberCtx.shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not shut down")
	}

	assert.Equal(t, queue.StateStopped, loop.State())
	assert.Error(t, subscriberCtx.backgroundActorCtx.Err())
}

func TestInitAdminServer(t *testing.T) {
	t.Parallel()

	deps := newTestDependencies()
	deps.cfg.AdminServer.Host = "127.0.0.1"
	deps.cfg.AdminServer.Port = 8089
	deps.cfg.Logging.AccessLog.Enabled = true

	breaker, err := resilience.NewCircuitBreaker(resilience.Settings{FailureThreshold: 1, OpenTimeout: time.Hour})
	require.NoError(t, err)

	server := initAdminServer(deps.cfg, deps.logger, deps.Infra.Metrics, deps.Health, breaker)

	assert.Equal(t, "127.0.0.1:8089", server.Addr)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, healthPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", rec.Header().Get(middleware.ServiceVersionHeader))

	breaker.RecordFailure()

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, healthPath, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, metricsPath, nil))

	// metrics are disabled, so the no-op handler answers
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
