package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	metricsNamespace = "queue_consumer"
)

type (
	Metrics interface {
		RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, requestSize, responseSize int64)
		RecordQueueOperation(ctx context.Context, operation string, duration time.Duration, err error)
		RecordRetry(ctx context.Context, operation string, attempt int)
		RecordCircuitTransition(ctx context.Context, from, to string)
		RecordMessageProcessed(ctx context.Context, duration time.Duration, success bool)
		RecordBatch(ctx context.Context, mode string, total, failed int, duration time.Duration)
		RecordDuplicate(ctx context.Context)
		RecordLoopFault(ctx context.Context, stage string)
		Handler() http.Handler
		Shutdown(ctx context.Context) error
	}

	OTELMetrics struct {
		meterProvider *sdkmetric.MeterProvider
		meter         metric.Meter
		logger        Logger

		httpRequestTotal      metric.Int64Counter
		httpRequestDuration   metric.Float64Histogram
		httpResponseSize      metric.Int64Histogram
		queueOperationTotal   metric.Int64Counter
		queueOperationLatency metric.Float64Histogram
		queueRetryTotal       metric.Int64Counter
		circuitTransitions    metric.Int64Counter
		messagesTotal         metric.Int64Counter
		messageDuration       metric.Float64Histogram
		batchSize             metric.Int64Histogram
		batchDuration         metric.Float64Histogram
		duplicatesTotal       metric.Int64Counter
		loopFaultsTotal       metric.Int64Counter
	}
)

func NewMetrics(ctx context.Context, cfg config.ServiceConfig, logger Logger) (Metrics, error) {
	if !cfg.Telemetry.Metrics.Enabled {
		logger.Info().Msg("metrics disabled, using NoOp implementation")

		return &NoOpMetrics{}, nil
	}

	return NewOTELMetrics(ctx, cfg, logger)
}

func NewOTELMetrics(ctx context.Context, cfg config.ServiceConfig, logger Logger) (*OTELMetrics, error) {
	endpoint := fmt.Sprintf("%s:%s", cfg.Telemetry.OtelGRPCHost, cfg.Telemetry.OtelGRPCPort)

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTEL collector: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg.AppConfig)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(meterProvider)

	provider, err := newOTELMetrics(meterProvider, cfg.AppConfig.ServiceVersion, logger.Component("metrics"))
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("otel_endpoint", endpoint).
		Msg("OTEL metrics provider initialized successfully")

	return provider, nil
}

func newOTELMetrics(meterProvider *sdkmetric.MeterProvider, version string, logger Logger) (*OTELMetrics, error) {
	provider := &OTELMetrics{
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(metricsNamespace, metric.WithInstrumentationVersion(version)),
		logger:        logger,
	}

	if err := provider.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return provider, nil
}

func newResource(ctx context.Context, app config.AppConfig) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(app.ServiceName),
			semconv.ServiceVersionKey.String(app.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(app.CommitSHA),
			semconv.DeploymentEnvironmentKey.String(app.Env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return res, nil
}

func (om *OTELMetrics) initializeMetrics() error {
	var err error

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&om.httpRequestTotal, "admin_http_requests_total", "Total number of admin HTTP requests", "{request}"},
		{&om.queueOperationTotal, "queue_operations_total", "Total number of queue client operations", "{operation}"},
		{&om.queueRetryTotal, "queue_retries_total", "Total number of retried queue operations", "{retry}"},
		{&om.circuitTransitions, "circuit_breaker_transitions_total", "Total number of circuit breaker state changes", "{transition}"},
		{&om.messagesTotal, "messages_processed_total", "Total number of handled messages", "{message}"},
		{&om.duplicatesTotal, "messages_duplicate_total", "Total number of publishes suppressed as duplicates", "{message}"},
		{&om.loopFaultsTotal, "consumer_loop_faults_total", "Total number of consumer loop faults", "{fault}"},
	}

	for _, c := range counters {
		*c.target, err = om.meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		target      *metric.Float64Histogram
		name        string
		description string
	}{
		{&om.httpRequestDuration, "admin_http_request_duration_seconds", "Admin HTTP request duration in seconds"},
		{&om.queueOperationLatency, "queue_operation_duration_seconds", "Queue client operation duration in seconds"},
		{&om.messageDuration, "message_processing_duration_seconds", "Message handler duration in seconds"},
		{&om.batchDuration, "batch_processing_duration_seconds", "Batch processing duration in seconds"},
	}

	for _, h := range histograms {
		*h.target, err = om.meter.Float64Histogram(h.name, metric.WithDescription(h.description), metric.WithUnit("s"))
		if err != nil {
			return fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	om.httpResponseSize, err = om.meter.Int64Histogram(
		"admin_http_response_size_bytes",
		metric.WithDescription("Admin HTTP response size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create admin_http_response_size_bytes histogram: %w", err)
	}

	om.batchSize, err = om.meter.Int64Histogram(
		"batch_size_messages",
		metric.WithDescription("Number of messages per processed batch"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch_size_messages histogram: %w", err)
	}

	return nil
}

func (om *OTELMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, _, responseSize int64) {
	attrs := metric.WithAttributes(
		HTTPMethodAttr(method),
		HTTPPathAttr(path),
		HTTPStatusCodeAttr(statusCode),
	)

	om.httpRequestTotal.Add(ctx, 1, attrs)
	om.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
	om.httpResponseSize.Record(ctx, responseSize, attrs)
}

func (om *OTELMetrics) RecordQueueOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		OperationAttr(operation),
		StatusAttr(statusOf(err == nil)),
		ErrorTypeAttr(errorTypeOf(err)),
	)

	om.queueOperationTotal.Add(ctx, 1, attrs)
	om.queueOperationLatency.Record(ctx, duration.Seconds(), attrs)
}

func (om *OTELMetrics) RecordRetry(ctx context.Context, operation string, attempt int) {
	om.queueRetryTotal.Add(ctx, 1, metric.WithAttributes(
		OperationAttr(operation),
		AttemptAttr(attempt),
	))
}

func (om *OTELMetrics) RecordCircuitTransition(ctx context.Context, from, to string) {
	om.circuitTransitions.Add(ctx, 1, metric.WithAttributes(
		CircuitFromAttr(from),
		CircuitToAttr(to),
	))
}

func (om *OTELMetrics) RecordMessageProcessed(ctx context.Context, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(StatusAttr(statusOf(success)))

	om.messagesTotal.Add(ctx, 1, attrs)

	if success {
		om.messageDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (om *OTELMetrics) RecordBatch(ctx context.Context, mode string, total, failed int, duration time.Duration) {
	attrs := metric.WithAttributes(
		ModeAttr(mode),
		StatusAttr(statusOf(failed == 0)),
	)

	om.batchSize.Record(ctx, int64(total), attrs)
	om.batchDuration.Record(ctx, duration.Seconds(), attrs)
}

func (om *OTELMetrics) RecordDuplicate(ctx context.Context) {
	om.duplicatesTotal.Add(ctx, 1)
}

func (om *OTELMetrics) RecordLoopFault(ctx context.Context, stage string) {
	om.loopFaultsTotal.Add(ctx, 1, metric.WithAttributes(StageAttr(stage)))
}

func (om *OTELMetrics) Handler() http.Handler {
	return promhttp.Handler()
}

func (om *OTELMetrics) Shutdown(ctx context.Context) error {
	if err := om.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}

	return nil
}

func statusOf(success bool) string {
	if success {
		return "success"
	}

	return "error"
}
