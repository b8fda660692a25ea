package config

import (
	"errors"
	"fmt"
	"time"
)

// Compile time variables are set by -ldflags.
var (
	ServiceVersion string
	CommitSHA      string
)

const (
	ProcessingModeSequential = "sequential"
	ProcessingModeParallel   = "parallel"
)

const (
	DedupStrategyContent   = "content"
	DedupStrategyTimestamp = "timestamp"
	DedupStrategyHybrid    = "hybrid"
)

type (
	ServiceConfig struct {
		AppConfig      AppConfig            `json:"app_config"`
		Logging        LoggingConfig        `json:"logging"`
		Telemetry      Telemetry            `json:"telemetry"`
		SecretStorage  SecretStorageConfig  `json:"secret_storage"`
		AdminServer    AdminServerConfig    `json:"admin_server"`
		Queue          QueueConfig          `json:"queue"`
		CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
		Backoff        BackoffConfig        `json:"backoff"`
		Dedup          DedupConfig          `json:"dedup"`
		Processing     ProcessingConfig     `json:"processing"`
		Consumer       ConsumerConfig       `json:"consumer"`
		Publisher      PublisherConfig      `json:"publisher"`
	}

	AppConfig struct {
		ServiceName    string `envconfig:"APP_SERVICE_NAME" default:"svc-queue-consumer" json:"service_name"`
		ServiceVersion string `envconfig:"APP_SERVICE_VERSION" default:"0.0.0" json:"service_version"`
		CommitSHA      string `envconfig:"APP_COMMIT_SHA" default:"unknown" json:"commit_sha"`
		Env            string `envconfig:"APP_ENVIRONMENT" default:"unknown" json:"env"`
	}

	LoggingConfig struct {
		Level     string          `envconfig:"LOGGING_LEVEL" default:"info" json:"level"`
		Format    string          `envconfig:"LOGGING_FORMAT" default:"json" json:"format"`
		AccessLog AccessLogConfig `json:"access_log"`
	}

	AccessLogConfig struct {
		Enabled         bool `envconfig:"LOGGING_ACCESS_LOG_ENABLED" default:"true" json:"enabled"`
		LogHealthChecks bool `envconfig:"LOGGING_ACCESS_LOG_HEALTH_CHECKS" default:"false" json:"log_health_checks"`
	}

	Telemetry struct {
		ExporterType string `envconfig:"OTEL_EXPORTER" default:"grpc" json:"exporter_type"`

		OtelGRPCHost string `envconfig:"OTEL_HOST" json:"otel_grpc_host"`
		OtelGRPCPort string `envconfig:"OTEL_PORT" default:"4317" json:"otel_grpc_port"`

		Metrics Metrics `json:"metrics"`
		Traces  Traces  `json:"traces"`
	}

	Metrics struct {
		Enabled bool `envconfig:"METRICS_ENABLED" default:"false" json:"enabled"`
	}

	Traces struct {
		Enabled      bool    `envconfig:"TRACES_ENABLED" default:"false" json:"enabled"`
		SamplerRatio float64 `envconfig:"TRACES_SAMPLER_RATIO" default:"1" json:"sampler_ratio"`
	}

	SecretStorageConfig struct {
		Enabled       bool          `envconfig:"VAULT_ENABLED" default:"false" json:"enabled"`
		Address       string        `envconfig:"VAULT_ADDRESS" default:"http://vault:8200" json:"address"`
		Token         string        `envconfig:"VAULT_TOKEN" default:"" json:"token,omitempty"`
		RoleID        string        `envconfig:"VAULT_ROLE_ID" default:"" json:"role_id,omitempty"`
		SecretID      string        `envconfig:"VAULT_SECRET_ID" default:"" json:"secret_id,omitempty"`
		AuthMethod    string        `envconfig:"VAULT_AUTH_METHOD" default:"token" json:"auth_method"`
		MountPath     string        `envconfig:"VAULT_MOUNT_PATH" default:"svc-queue-consumer" json:"mount_path"`
		Namespace     string        `envconfig:"VAULT_NAMESPACE" default:"" json:"namespace,omitempty"`
		Timeout       time.Duration `envconfig:"VAULT_TIMEOUT" default:"30s" json:"timeout"`
		MaxRetries    int           `envconfig:"VAULT_MAX_RETRIES" default:"3" json:"max_retries"`
		TLSSkipVerify bool          `envconfig:"VAULT_TLS_SKIP_VERIFY" default:"false" json:"tls_skip_verify"`
	}

	AdminServerConfig struct {
		Enabled         bool          `envconfig:"ADMIN_SERVER_ENABLED" default:"true" json:"enabled"`
		Port            int           `envconfig:"ADMIN_SERVER_PORT" default:"8089" json:"port"`
		Host            string        `envconfig:"ADMIN_SERVER_HOST" default:"0.0.0.0" json:"host"`
		ReadTimeout     time.Duration `envconfig:"ADMIN_SERVER_READ_TIMEOUT" default:"5s" json:"read_timeout"`
		WriteTimeout    time.Duration `envconfig:"ADMIN_SERVER_WRITE_TIMEOUT" default:"10s" json:"write_timeout"`
		ShutdownTimeout time.Duration `envconfig:"ADMIN_SERVER_SHUTDOWN_TIMEOUT" default:"30s" json:"shutdown_timeout"`
	}

	QueueConfig struct {
		Host              string        `envconfig:"RABBITMQ_HOST" default:"rabbitmq" json:"host"`
		Port              int           `envconfig:"RABBITMQ_PORT" default:"5672" json:"port"`
		Username          string        `envconfig:"RABBITMQ_USERNAME" default:"guest" json:"username"`
		Password          string        `envconfig:"RABBITMQ_PASSWORD" default:"guest" json:"password,omitempty"`
		VirtualHost       string        `envconfig:"RABBITMQ_VIRTUAL_HOST" default:"/" json:"virtual_host"`
		QueueName         string        `envconfig:"RABBITMQ_QUEUE_NAME" default:"messages" json:"queue_name"`
		Durable           bool          `envconfig:"RABBITMQ_DURABLE" default:"true" json:"durable"`
		VisibilityTimeout time.Duration `envconfig:"RABBITMQ_VISIBILITY_TIMEOUT" default:"30s" json:"visibility_timeout"`
		ReconnectDelay    time.Duration `envconfig:"RABBITMQ_RECONNECT_DELAY" default:"5s" json:"reconnect_delay"`
		PublishTimeout    time.Duration `envconfig:"RABBITMQ_PUBLISH_TIMEOUT" default:"3s" json:"publish_timeout"`
	}

	CircuitBreakerConfig struct {
		FailureThreshold int           `envconfig:"CIRCUIT_BREAKER_FAILURE_THRESHOLD" default:"5" json:"failure_threshold"`
		OpenTimeout      time.Duration `envconfig:"CIRCUIT_BREAKER_OPEN_TIMEOUT" default:"60s" json:"open_timeout"`
	}

	BackoffConfig struct {
		// MaxRetries is the number of retries after the first attempt.
		MaxRetries int `envconfig:"RETRY_MAX_RETRIES" default:"3" json:"max_retries"`
		// BaseDelay is the amount of time to backoff after the first failure.
		BaseDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"100ms" json:"base_delay"`
		// Multiplier is the factor with which to multiply backoffs after a
		// failed retry. Should ideally be greater than 1.
		Multiplier float64 `envconfig:"RETRY_BACKOFF_MULTIPLIER" default:"2" json:"multiplier"`
		// Jitter is the factor with which backoffs are randomized.
		Jitter float64 `envconfig:"RETRY_JITTER" default:"0" json:"jitter"`
		// MaxDelay is the upper bound of backoff delay.
		MaxDelay time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"5s" json:"max_delay"`
	}

	DedupConfig struct {
		Strategy    string        `envconfig:"DEDUP_STRATEGY" default:"content" json:"strategy"`
		CacheExpiry time.Duration `envconfig:"DEDUP_CACHE_EXPIRY" default:"5m" json:"cache_expiry"`
		MaxEntries  int           `envconfig:"DEDUP_MAX_ENTRIES" default:"100000" json:"max_entries"`
	}

	ProcessingConfig struct {
		Mode                 string        `envconfig:"PROCESSING_MODE" default:"sequential" json:"mode"`
		BatchSize            int           `envconfig:"PROCESSING_BATCH_SIZE" default:"10" json:"batch_size"`
		MaxConcurrency       int           `envconfig:"PROCESSING_MAX_CONCURRENCY" default:"5" json:"max_concurrency"`
		DelayBetweenMessages time.Duration `envconfig:"PROCESSING_DELAY_BETWEEN_MESSAGES" default:"0s" json:"delay_between_messages"`
		DelayBetweenBatches  time.Duration `envconfig:"PROCESSING_DELAY_BETWEEN_BATCHES" default:"0s" json:"delay_between_batches"`
		HandlerTimeout       time.Duration `envconfig:"PROCESSING_HANDLER_TIMEOUT" default:"0s" json:"handler_timeout"`
	}

	ConsumerConfig struct {
		MaxMessages     int           `envconfig:"CONSUMER_MAX_MESSAGES" default:"10" json:"max_messages"`
		WaitTime        time.Duration `envconfig:"CONSUMER_WAIT_TIME" default:"20s" json:"wait_time"`
		PollingInterval time.Duration `envconfig:"CONSUMER_POLLING_INTERVAL" default:"1s" json:"polling_interval"`
		StopTimeout     time.Duration `envconfig:"CONSUMER_STOP_TIMEOUT" default:"30s" json:"stop_timeout"`
	}

	PublisherConfig struct {
		// RatePerSecond caps sends from the publisher binary; zero disables the limit.
		RatePerSecond float64 `envconfig:"PUBLISHER_RATE_PER_SECOND" default:"50" json:"rate_per_second"`
		Burst         int     `envconfig:"PUBLISHER_BURST" default:"10" json:"burst"`
		MaxLineBytes  int     `envconfig:"PUBLISHER_MAX_LINE_BYTES" default:"262144" json:"max_line_bytes"`
	}
)

// Validate reports every invalid setting at once.
func (c *ServiceConfig) Validate() error {
	var errs []error

	if c.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("circuit breaker failure threshold must be positive, got %d", c.CircuitBreaker.FailureThreshold))
	}

	if c.CircuitBreaker.OpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("circuit breaker open timeout must be positive, got %s", c.CircuitBreaker.OpenTimeout))
	}

	if c.Backoff.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.Backoff.MaxRetries))
	}

	if c.Backoff.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must be at least 1, got %v", c.Backoff.Multiplier))
	}

	if c.Backoff.BaseDelay < 0 || c.Backoff.MaxDelay < c.Backoff.BaseDelay {
		errs = append(errs, fmt.Errorf("invalid backoff delays: base %s, max %s", c.Backoff.BaseDelay, c.Backoff.MaxDelay))
	}

	switch c.Dedup.Strategy {
	case DedupStrategyContent, DedupStrategyTimestamp, DedupStrategyHybrid:
	default:
		errs = append(errs, fmt.Errorf("unknown dedup strategy %q", c.Dedup.Strategy))
	}

	if c.Dedup.CacheExpiry <= 0 {
		errs = append(errs, fmt.Errorf("dedup cache expiry must be positive, got %s", c.Dedup.CacheExpiry))
	}

	switch c.Processing.Mode {
	case ProcessingModeSequential, ProcessingModeParallel:
	default:
		errs = append(errs, fmt.Errorf("unknown processing mode %q", c.Processing.Mode))
	}

	if c.Processing.BatchSize < 1 || c.Processing.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("batch size and max concurrency must be positive, got %d and %d",
			c.Processing.BatchSize, c.Processing.MaxConcurrency))
	}

	if c.Consumer.MaxMessages < 1 {
		errs = append(errs, fmt.Errorf("consumer max messages must be positive, got %d", c.Consumer.MaxMessages))
	}

	if c.Consumer.PollingInterval <= 0 {
		errs = append(errs, errors.New("consumer polling interval must be positive"))
	}

	if c.Publisher.RatePerSecond < 0 || c.Publisher.Burst < 1 {
		errs = append(errs, fmt.Errorf("invalid publisher rate limit: rate %v, burst %d", c.Publisher.RatePerSecond, c.Publisher.Burst))
	}

	return errors.Join(errs...)
}
