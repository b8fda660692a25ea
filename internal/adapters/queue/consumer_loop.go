package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
	"github.com/architeacher/svc-queue-consumer/internal/service"
)

const (
	loopTracerName = "consumer-loop"

	stageReceive = "receive"
	stageDelete  = "delete"
)

type LoopState int32

const (
	StateIdle LoopState = iota
	StateRunning
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type (
	// Processor runs a handler over a received batch.
	Processor interface {
		Process(ctx context.Context, messages []domain.RawMessage, handler ports.MessageHandler, opts service.ProcessingOptions) domain.BatchResult
	}

	LoopSettings struct {
		MaxMessages     int
		WaitTime        time.Duration
		PollingInterval time.Duration
		Processing      service.ProcessingOptions
	}

	LoopStats struct {
		Iterations int64
		Received   int64
		Deleted    int64
		Faults     int64
	}

	ConsumerLoop struct {
		client   ports.QueueClient
		engine   Processor
		health   ports.HealthMonitor
		settings LoopSettings
		logger   infrastructure.Logger
		metrics  infrastructure.Metrics
		tracer   trace.Tracer
		sleep    resilience.Sleeper

		mu         sync.Mutex
		state      LoopState
		running    atomic.Bool
		wakeSleeps context.CancelFunc

		iterations atomic.Int64
		received   atomic.Int64
		deleted    atomic.Int64
		faults     atomic.Int64
	}

	LoopOption func(*ConsumerLoop)
)

func WithLoopSleeper(sleep resilience.Sleeper) LoopOption {
	return func(l *ConsumerLoop) {
		l.sleep = sleep
	}
}

func WithLoopTracerProvider(provider trace.TracerProvider) LoopOption {
	return func(l *ConsumerLoop) {
		l.tracer = provider.Tracer(loopTracerName)
	}
}

func LoopSettingsFromConfig(cfg config.ServiceConfig) LoopSettings {
	return LoopSettings{
		MaxMessages:     cfg.Consumer.MaxMessages,
		WaitTime:        cfg.Consumer.WaitTime,
		PollingInterval: cfg.Consumer.PollingInterval,
		Processing:      service.ProcessingOptionsFromConfig(cfg.Processing),
	}
}

func NewConsumerLoop(
	client ports.QueueClient,
	engine Processor,
	health ports.HealthMonitor,
	settings LoopSettings,
	logger infrastructure.Logger,
	metrics infrastructure.Metrics,
	opts ...LoopOption,
) *ConsumerLoop {
	loop := &ConsumerLoop{
		client:   client,
		engine:   engine,
		health:   health,
		settings: settings,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.GetTracerProvider().Tracer(loopTracerName),
		sleep:    resilience.SleepContext,
	}

	for _, opt := range opts {
		opt(loop)
	}

	return loop
}

// Start polls the queue and processes batches with handler until Stop is called or
// ctx is done. It returns nil after Stop and ctx.Err() after cancellation. A stopped
// loop can be started again.
func (l *ConsumerLoop) Start(ctx context.Context, handler ports.MessageHandler) error {
	if handler == nil {
		return domain.ErrHandlerRequired
	}

	sleepCtx, wakeSleeps := context.WithCancel(ctx)
	defer wakeSleeps()

	l.mu.Lock()
	if l.state == StateRunning {
		l.mu.Unlock()

		return domain.ErrAlreadyRunning
	}

	l.state = StateRunning
	l.wakeSleeps = wakeSleeps
	l.running.Store(true)
	l.mu.Unlock()

	l.logger.Info().
		Int("max_messages", l.settings.MaxMessages).
		Dur("wait_time", l.settings.WaitTime).
		Str("mode", l.settings.Processing.Mode).
		Msg("consumer loop started")

	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.running.Store(false)
		l.wakeSleeps = nil
		l.mu.Unlock()

		l.logger.Info().Msg("consumer loop stopped")
	}()

	for l.running.Load() && ctx.Err() == nil {
		l.iterate(ctx, sleepCtx, handler)
	}

	return ctx.Err()
}

// Stop asks a running loop to exit. In-flight receive, process and delete calls
// finish; pending sleeps return immediately.
func (l *ConsumerLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateRunning || !l.running.CompareAndSwap(true, false) {
		return
	}

	l.wakeSleeps()
}

func (l *ConsumerLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *ConsumerLoop) Stats() LoopStats {
	return LoopStats{
		Iterations: l.iterations.Load(),
		Received:   l.received.Load(),
		Deleted:    l.deleted.Load(),
		Faults:     l.faults.Load(),
	}
}

func (l *ConsumerLoop) iterate(ctx, sleepCtx context.Context, handler ports.MessageHandler) {
	ctx, span := l.tracer.Start(ctx, "consumer_loop.iteration")
	defer span.End()

	l.iterations.Add(1)

	messages, err := l.client.Receive(ctx, l.settings.MaxMessages, l.settings.WaitTime)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		l.fault(ctx, sleepCtx, span, &domain.LoopFault{Stage: stageReceive, Err: err})

		return
	}

	span.SetAttributes(attribute.Int("messages.received", len(messages)))

	// unprocessed messages return to the queue once their visibility timeout expires
	if !l.running.Load() {
		return
	}

	if len(messages) == 0 {
		_ = l.sleep(sleepCtx, l.settings.PollingInterval)

		return
	}

	l.received.Add(int64(len(messages)))

	result := l.engine.Process(ctx, messages, handler, l.settings.Processing)

	deleteErr := l.deleteProcessed(ctx, result.ReceiptHandles())

	l.report(result)

	if deleteErr != nil {
		l.fault(ctx, sleepCtx, span, &domain.LoopFault{Stage: stageDelete, Err: deleteErr})
	}
}

// deleteProcessed acknowledges every handle and joins the failures.
func (l *ConsumerLoop) deleteProcessed(ctx context.Context, handles []string) error {
	var errs []error

	for _, handle := range handles {
		if err := l.client.Delete(ctx, handle); err != nil {
			errs = append(errs, fmt.Errorf("receipt %s: %w", handle, err))

			continue
		}

		l.deleted.Add(1)
	}

	return errors.Join(errs...)
}

func (l *ConsumerLoop) report(result domain.BatchResult) {
	if l.health == nil {
		return
	}

	for _, outcome := range result.Succeeded {
		l.health.RecordSuccess(outcome.Duration)
	}

	for _, processingErr := range result.Errors {
		l.health.RecordFailure(processingErr.Error())
	}
}

func (l *ConsumerLoop) fault(ctx, sleepCtx context.Context, span trace.Span, fault *domain.LoopFault) {
	l.faults.Add(1)
	l.metrics.RecordLoopFault(ctx, fault.Stage)

	span.RecordError(fault)
	span.SetStatus(codes.Error, fault.Stage)

	backoff := 2 * l.settings.PollingInterval

	l.logger.Error().
		Err(fault).
		Str("stage", fault.Stage).
		Dur("backoff", backoff).
		Msg("consumer iteration failed")

	_ = l.sleep(sleepCtx, backoff)
}
