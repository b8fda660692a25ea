package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/vault/api"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/architeacher/svc-queue-consumer/internal/adapters"
	"github.com/architeacher/svc-queue-consumer/internal/adapters/middleware"
	"github.com/architeacher/svc-queue-consumer/internal/adapters/queue"
	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
	broker "github.com/architeacher/svc-queue-consumer/pkg/queue"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
)

type (
	ApplicationWorkers struct {
		Consumer *queue.Runner
		Feed     ports.BackgroundProcessor
	}

	InfrastructureDeps struct {
		AdminServer         *http.Server
		SecretStorageClient *api.Client
		QueueClient         *broker.Client
		Metrics             infrastructure.Metrics
	}

	Resilience struct {
		Breaker  *resilience.CircuitBreaker
		Executor *resilience.Executor
	}

	Clients struct {
		Queue ports.QueueClient
	}

	Repos struct {
		SecretStorageRepo ports.SecretsRepository
	}

	Dependencies struct {
		Workers ApplicationWorkers

		cfg          *config.ServiceConfig
		configLoader *config.Loader

		logger infrastructure.Logger

		Infra      InfrastructureDeps
		Resilience Resilience
		Clients    Clients
		Repos      Repos
		Health     *adapters.HealthMonitor

		tracerShutdownFunc infrastructure.TracerShutdownFunc
		secretVersion      uint
	}
)

func initializeDependencies(ctx context.Context, opts ...DependencyOption) (*Dependencies, error) {
	cfg, err := config.Init()
	if err != nil {
		return nil, fmt.Errorf("unable to load service configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	appLogger := infrastructure.New(cfg.Logging)

	appLogger.Info().
		Str("service", cfg.AppConfig.ServiceName).
		Str("version", cfg.AppConfig.ServiceVersion).
		Msg("initializing dependencies...")

	deps := &Dependencies{
		cfg:    cfg,
		logger: appLogger,
	}

	// Start with default options and append any additional options.
	options := append(defaultOptions(ctx), opts...)

	for _, opt := range options {
		if err := opt(deps); err != nil {
			return nil, fmt.Errorf("failed to apply dependency option: %w", err)
		}
	}

	deps.logger.Info().Msg("dependencies initialized successfully")

	return deps, nil
}

// initAdminServer exposes the health report and the metrics endpoint.
func initAdminServer(
	cfg *config.ServiceConfig,
	logger infrastructure.Logger,
	metrics infrastructure.Metrics,
	health *adapters.HealthMonitor,
	breaker *resilience.CircuitBreaker,
) *http.Server {
	logger.Info().Msg("creating admin server...")

	router := chi.NewRouter()

	router.Use(
		chimiddleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.NewServiceVersionMiddleware(cfg.AppConfig.ServiceVersion).Middleware,
	)

	if cfg.Telemetry.Metrics.Enabled {
		router.Use(middleware.NewMetricsMiddleware(metrics).Middleware)
		logger.Info().Msg("HTTP metrics collection enabled")
	}

	if cfg.Logging.AccessLog.Enabled {
		healthFilter := middleware.NewHealthCheckFilter(cfg.Logging.AccessLog.LogHealthChecks, metricsPath)
		accessLogger := middleware.NewAccessLogger(logger.Logger)

		router.Use(healthFilter.Middleware, accessLogger.Middleware)
		logger.Info().
			Bool("log_health_checks", cfg.Logging.AccessLog.LogHealthChecks).
			Msg("structured access logging enabled")
	}

	router.Get(healthPath, health.HealthHandler(breaker))
	router.Method(http.MethodGet, metricsPath, metrics.Handler())

	var handler http.Handler = router
	if cfg.Telemetry.Traces.Enabled {
		handler = otelhttp.NewHandler(router, cfg.AppConfig.ServiceName+"-admin")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.AdminServer.Host, strconv.Itoa(cfg.AdminServer.Port)),
		Handler:      handler,
		ReadTimeout:  cfg.AdminServer.ReadTimeout,
		WriteTimeout: cfg.AdminServer.WriteTimeout,
	}

	logger.Info().Str("addr", server.Addr).Msg("admin server created")

	return server
}
