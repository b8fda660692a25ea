package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/architeacher/svc-queue-consumer/internal/adapters"
	"github.com/architeacher/svc-queue-consumer/internal/adapters/feed"
	"github.com/architeacher/svc-queue-consumer/internal/adapters/queue"
	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/dedup"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
	"github.com/architeacher/svc-queue-consumer/internal/service"
	broker "github.com/architeacher/svc-queue-consumer/pkg/queue"
)

type (
	DependencyOption func(*Dependencies) error
)

func defaultOptions(ctx context.Context) []DependencyOption {
	return []DependencyOption{
		WithSecretStorage(),
		WithSecretStorageRepo(),
		WithConfigLoader(ctx),
		WithMetrics(ctx),
		WithTracing(ctx),
		WithResilience(),
		WithHealthMonitor(),
	}
}

// WithSecretStorage initializes the Vault client using ENV config.
func WithSecretStorage() DependencyOption {
	return func(d *Dependencies) error {
		client, err := adapters.NewVaultClient(d.cfg.SecretStorage)
		if err != nil {
			return err
		}

		d.Infra.SecretStorageClient = client

		return nil
	}
}

func WithSecretStorageRepo() DependencyOption {
	return func(d *Dependencies) error {
		d.Repos.SecretStorageRepo = adapters.NewVaultRepository(d.Infra.SecretStorageClient)

		return nil
	}
}

func WithConfigLoader(ctx context.Context) DependencyOption {
	return func(d *Dependencies) error {
		d.configLoader = config.NewLoader(d.cfg, d.Repos.SecretStorageRepo)

		if !d.cfg.SecretStorage.Enabled {
			d.logger.Info().Msg("secret storage is disabled, skipping vault configuration loading")

			return nil
		}

		version, err := d.configLoader.Load(ctx)
		if err != nil {
			return fmt.Errorf("unable to load service configuration: %w", err)
		}

		d.secretVersion = version
		d.logger.Info().Uint("secret_version", version).Msg("secrets loaded from vault")

		return nil
	}
}

func WithMetrics(ctx context.Context) DependencyOption {
	return func(d *Dependencies) error {
		metrics, err := infrastructure.NewMetrics(ctx, *d.cfg, d.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}

		d.Infra.Metrics = metrics

		return nil
	}
}

func WithTracing(ctx context.Context) DependencyOption {
	return func(d *Dependencies) error {
		if !d.cfg.Telemetry.Traces.Enabled {
			d.tracerShutdownFunc = func(_ context.Context) error {
				return nil
			}

			return nil
		}

		tracerShutdownFunc, err := infrastructure.InitGlobalTracer(ctx, d.cfg.Telemetry, d.cfg.AppConfig)
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to initialize global tracer")

			return err
		}

		d.tracerShutdownFunc = tracerShutdownFunc

		return nil
	}
}

// WithResilience builds the circuit breaker and retry executor shared by every queue call.
func WithResilience() DependencyOption {
	return func(d *Dependencies) error {
		logger := d.logger.Component("circuit_breaker")
		metrics := d.Infra.Metrics

		breaker, err := resilience.NewCircuitBreaker(resilience.Settings{
			FailureThreshold: d.cfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      d.cfg.CircuitBreaker.OpenTimeout,
			OnStateChange: func(from, to resilience.State) {
				logger.Warn().
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")

				metrics.RecordCircuitTransition(context.Background(), from.String(), to.String())
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create circuit breaker: %w", err)
		}

		d.Resilience = Resilience{
			Breaker:  breaker,
			Executor: resilience.NewExecutor(d.cfg.Backoff),
		}

		return nil
	}
}

func WithHealthMonitor() DependencyOption {
	return func(d *Dependencies) error {
		d.Health = adapters.NewHealthMonitor(d.logger.Component("health"))

		return nil
	}
}

// WithQueue connects to RabbitMQ, declares the configured queue and wraps the
// client with the circuit breaker and retry executor.
func WithQueue() DependencyOption {
	return func(d *Dependencies) error {
		cfg := d.cfg.Queue

		client := broker.NewClient(
			broker.Config{
				Username: cfg.Username,
				Password: cfg.Password,
				Host:     cfg.Host,
				Port:     cfg.Port,
				Vhost:    cfg.VirtualHost,
			},
			broker.WithLogger(infrastructure.NewQueueLogger(d.logger.Component("rabbitmq"))),
			broker.WithReconnectDelay(cfg.ReconnectDelay),
			broker.WithVisibilityTimeout(cfg.VisibilityTimeout),
			broker.WithPublishingTimeout(cfg.PublishTimeout),
		)

		if err := client.Connect(); err != nil {
			return fmt.Errorf("failed to connect to queue: %w", err)
		}

		if err := client.DeclareQueue(cfg.QueueName, cfg.Durable); err != nil {
			_ = client.Close()

			return fmt.Errorf("failed to declare queue: %w", err)
		}

		d.Infra.QueueClient = client
		d.Clients.Queue = adapters.NewResilientQueueClient(
			adapters.NewRabbitMQClient(client, cfg.QueueName),
			d.Resilience.Breaker,
			d.Resilience.Executor,
			d.logger.Component("queue_client"),
			d.Infra.Metrics,
		)

		return nil
	}
}

func WithAdminServer() DependencyOption {
	return func(d *Dependencies) error {
		if !d.cfg.AdminServer.Enabled {
			d.logger.Info().Msg("admin server is disabled")

			return nil
		}

		d.Infra.AdminServer = initAdminServer(d.cfg, d.logger, d.Infra.Metrics, d.Health, d.Resilience.Breaker)

		return nil
	}
}

func WithSubscriber() DependencyOption {
	return func(d *Dependencies) error {
		if err := WithQueue()(d); err != nil {
			return err
		}

		engine := service.NewProcessingEngine(d.logger.Component("processing_engine"), d.Infra.Metrics)

		loop := queue.NewConsumerLoop(
			d.Clients.Queue,
			engine,
			d.Health,
			queue.LoopSettingsFromConfig(*d.cfg),
			d.logger.Component("consumer_loop"),
			d.Infra.Metrics,
		)

		worker := queue.NewLoggingWorker(d.logger.Component("logging_worker"))

		d.Workers.Consumer = queue.NewRunner(loop, worker.Handle)

		return WithAdminServer()(d)
	}
}

// WithPublisher wires the dedup-gated publisher to a feed of JSON lines read from reader.
func WithPublisher(reader io.Reader) DependencyOption {
	return func(d *Dependencies) error {
		if err := WithQueue()(d); err != nil {
			return err
		}

		cache, err := dedup.NewCache(dedup.Settings{
			Strategy:    dedup.Strategy(d.cfg.Dedup.Strategy),
			CacheExpiry: d.cfg.Dedup.CacheExpiry,
			MaxEntries:  d.cfg.Dedup.MaxEntries,
		})
		if err != nil {
			return fmt.Errorf("failed to create dedup cache: %w", err)
		}

		publisherService := service.NewPublisherService(
			d.Clients.Queue,
			cache,
			d.logger.Component("publisher"),
			d.Infra.Metrics,
		)

		d.Workers.Feed = feed.NewProcessor(reader, publisherService, d.cfg.Publisher, d.logger.Component("feed"))

		return nil
	}
}
