package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
)

const engineTracerName = "processing-engine"

type (
	ProcessingOptions struct {
		Mode                 string
		BatchSize            int
		MaxConcurrency       int
		DelayBetweenMessages time.Duration
		DelayBetweenBatches  time.Duration
		// HandlerTimeout bounds each handler call; zero means no bound.
		HandlerTimeout time.Duration
	}

	EngineStats struct {
		// TotalProcessed counts successfully handled messages.
		TotalProcessed        int64
		TotalFailed           int64
		AverageProcessingTime time.Duration
	}

	ProcessingEngine struct {
		logger  infrastructure.Logger
		metrics infrastructure.Metrics
		tracer  trace.Tracer
		sleep   resilience.Sleeper
		now     func() time.Time

		mu            sync.Mutex
		processed     int64
		failed        int64
		totalDuration time.Duration
		measured      int64
	}

	EngineOption func(*ProcessingEngine)

	messageResult struct {
		msgCtx   domain.MessageContext
		err      error
		duration time.Duration
		at       time.Time
	}
)

func WithEngineSleeper(sleep resilience.Sleeper) EngineOption {
	return func(e *ProcessingEngine) {
		e.sleep = sleep
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *ProcessingEngine) {
		e.now = now
	}
}

func WithEngineTracerProvider(provider trace.TracerProvider) EngineOption {
	return func(e *ProcessingEngine) {
		e.tracer = provider.Tracer(engineTracerName)
	}
}

func NewProcessingEngine(logger infrastructure.Logger, metrics infrastructure.Metrics, opts ...EngineOption) *ProcessingEngine {
	engine := &ProcessingEngine{
		logger:  logger,
		metrics: metrics,
		tracer:  otel.GetTracerProvider().Tracer(engineTracerName),
		sleep:   resilience.SleepContext,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func ProcessingOptionsFromConfig(cfg config.ProcessingConfig) ProcessingOptions {
	return ProcessingOptions{
		Mode:                 cfg.Mode,
		BatchSize:            cfg.BatchSize,
		MaxConcurrency:       cfg.MaxConcurrency,
		DelayBetweenMessages: cfg.DelayBetweenMessages,
		DelayBetweenBatches:  cfg.DelayBetweenBatches,
		HandlerTimeout:       cfg.HandlerTimeout,
	}
}

// Process runs handler over every message and aggregates the outcome. Handler
// failures never abort the batch. When ctx is done, messages that were not started
// are recorded as failed with the context error so they stay unacknowledged.
func (e *ProcessingEngine) Process(
	ctx context.Context,
	messages []domain.RawMessage,
	handler ports.MessageHandler,
	opts ProcessingOptions,
) domain.BatchResult {
	mode := opts.Mode
	if mode == "" {
		mode = config.ProcessingModeSequential
	}

	ctx, span := e.tracer.Start(ctx, "processing_engine.process", trace.WithAttributes(
		attribute.String("processing.mode", mode),
		attribute.Int("processing.total", len(messages)),
	))
	defer span.End()

	start := e.now()
	results := make([]messageResult, len(messages))

	if mode == config.ProcessingModeParallel {
		e.processParallel(ctx, messages, handler, opts, results)
	} else {
		e.processSequential(ctx, messages, handler, opts, results)
	}

	result := domain.BatchResult{
		Total:          len(messages),
		ProcessingTime: e.now().Sub(start),
	}

	for _, r := range results {
		if r.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.ProcessingError{
				MessageID: r.msgCtx.MessageID,
				Err:       r.err,
				Timestamp: r.at,
			})

			continue
		}

		result.Successful++
		result.Succeeded = append(result.Succeeded, domain.Outcome{
			Context:  r.msgCtx,
			Duration: r.duration,
		})
	}

	span.SetAttributes(
		attribute.Int("processing.successful", result.Successful),
		attribute.Int("processing.failed", result.Failed),
	)

	e.metrics.RecordBatch(ctx, mode, result.Total, result.Failed, result.ProcessingTime)

	e.logger.Debug().
		Str("mode", mode).
		Int("total", result.Total).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Dur("processing_time", result.ProcessingTime).
		Msg("batch processed")

	return result
}

func (e *ProcessingEngine) processSequential(
	ctx context.Context,
	messages []domain.RawMessage,
	handler ports.MessageHandler,
	opts ProcessingOptions,
	results []messageResult,
) {
	for i, msg := range messages {
		if i > 0 && opts.DelayBetweenMessages > 0 {
			// a failed sleep leaves ctx done, so the remaining messages are skipped below
			_ = e.sleep(ctx, opts.DelayBetweenMessages)
		}

		results[i] = e.handle(ctx, msg, handler, opts.HandlerTimeout)
	}
}

func (e *ProcessingEngine) processParallel(
	ctx context.Context,
	messages []domain.RawMessage,
	handler ports.MessageHandler,
	opts ProcessingOptions,
	results []messageResult,
) {
	batchSize := max(opts.BatchSize, 1)
	concurrency := max(opts.MaxConcurrency, 1)

	for start := 0; start < len(messages); start += batchSize {
		if start > 0 && opts.DelayBetweenBatches > 0 {
			_ = e.sleep(ctx, opts.DelayBetweenBatches)
		}

		end := min(start+batchSize, len(messages))

		var group errgroup.Group
		group.SetLimit(concurrency)

		for i := start; i < end; i++ {
			group.Go(func() error {
				results[i] = e.handle(ctx, messages[i], handler, opts.HandlerTimeout)

				return nil
			})
		}

		_ = group.Wait()
	}
}

func (e *ProcessingEngine) handle(
	ctx context.Context,
	msg domain.RawMessage,
	handler ports.MessageHandler,
	timeout time.Duration,
) messageResult {
	msgCtx := domain.NewMessageContext(msg)

	if err := ctx.Err(); err != nil {
		return messageResult{msgCtx: msgCtx, err: err, at: e.now()}
	}

	if handler == nil {
		return messageResult{msgCtx: msgCtx, err: domain.ErrHandlerRequired, at: e.now()}
	}

	handlerCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := e.now()
	err := invokeHandler(handlerCtx, handler, domain.ParseBody(bytes.Clone(msg.Body)), msgCtx)
	finished := e.now()
	duration := finished.Sub(started)

	if timeout > 0 && ctx.Err() == nil && errors.Is(handlerCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", domain.ErrHandlerTimeout, timeout)
	}

	e.record(duration, err == nil)
	e.metrics.RecordMessageProcessed(ctx, duration, err == nil)

	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("message_id", msgCtx.MessageID).
			Int("receive_count", msgCtx.ReceiveCount).
			Msg("message handler failed")
	}

	return messageResult{msgCtx: msgCtx, err: err, duration: duration, at: finished}
}

func invokeHandler(
	ctx context.Context,
	handler ports.MessageHandler,
	body domain.Body,
	msgCtx domain.MessageContext,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, r)
		}
	}()

	return handler(ctx, body, msgCtx)
}

func (e *ProcessingEngine) record(duration time.Duration, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if success {
		e.processed++
	} else {
		e.failed++
	}

	e.totalDuration += duration
	e.measured++
}

// Stats returns cumulative counters since construction or the last ResetStats.
func (e *ProcessingEngine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := EngineStats{
		TotalProcessed: e.processed,
		TotalFailed:    e.failed,
	}

	if e.measured > 0 {
		stats.AverageProcessingTime = e.totalDuration / time.Duration(e.measured)
	}

	return stats
}

func (e *ProcessingEngine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processed = 0
	e.failed = 0
	e.totalDuration = 0
	e.measured = 0
}
