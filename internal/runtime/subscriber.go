package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type SubscriberCtx struct {
	deps *Dependencies

	shutdownChannel chan os.Signal

	backgroundActorCtx      context.Context
	backgroundActorStopFunc context.CancelFunc

	consumerDone chan error
}

func NewSubscriber(opt ...SubscriberOption) *SubscriberCtx {
	sCtx := &SubscriberCtx{
		shutdownChannel: make(chan os.Signal, 1),
		consumerDone:    make(chan error, 1),
	}

	for i := range opt {
		opt[i](sCtx)
	}

	return sCtx
}

func (c *SubscriberCtx) Run() {
	c.build()
	c.start()
	c.shutdownHook()
	c.shutdown()
}

func (c *SubscriberCtx) build() {
	c.backgroundActorCtx, c.backgroundActorStopFunc = context.WithCancel(context.Background())

	deps, err := initializeDependencies(c.backgroundActorCtx, WithSubscriber())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	c.deps = deps
}

func (c *SubscriberCtx) start() {
	if server := c.deps.Infra.AdminServer; server != nil {
		go func() {
			c.deps.logger.Info().Str("address", server.Addr).Msg("admin server starting up")

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.deps.logger.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	go func() {
		c.deps.logger.Info().
			Str("queue", c.deps.cfg.Queue.QueueName).
			Msg("starting queue consumer")

		c.consumerDone <- c.deps.Workers.Consumer.Start(c.backgroundActorCtx)
	}()
}

func (c *SubscriberCtx) shutdownHook() {
	signal.Notify(c.shutdownChannel, syscall.SIGINT, syscall.SIGTERM)
}

func (c *SubscriberCtx) shutdown() {
	// Waits for one of the following shutdown conditions to happen.
	select {
	case err := <-c.consumerDone:
		c.deps.logger.Error().Err(err).Msg("queue consumer exited unexpectedly")
	case <-c.shutdownChannel:
		c.deps.logger.Info().Msg("received shutdown signal")

		c.stopConsumer()
	}

	c.backgroundActorStopFunc()

	c.cleanup()

	c.deps.logger.Info().Msg("queue consumer service stopped")
}

// stopConsumer lets the current iteration finish, then cancels it once the stop timeout elapses.
func (c *SubscriberCtx) stopConsumer() {
	c.deps.Workers.Consumer.Stop()

	timer := time.NewTimer(c.deps.cfg.Consumer.StopTimeout)
	defer timer.Stop()

	select {
	case err := <-c.consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			c.deps.logger.Error().Err(err).Msg("queue consumer stopped with error")
		}

		return
	case <-timer.C:
		c.deps.logger.Warn().
			Dur("stop_timeout", c.deps.cfg.Consumer.StopTimeout).
			Msg("queue consumer did not stop in time, cancelling in-flight work")
	}

	c.backgroundActorStopFunc()
	<-c.consumerDone
}

func (c *SubscriberCtx) cleanup() {
	c.deps.logger.Info().Msg("cleaning up resources...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.deps.cfg.AdminServer.ShutdownTimeout)
	defer cancel()

	if c.deps.Infra.AdminServer != nil {
		if err := c.deps.Infra.AdminServer.Shutdown(shutdownCtx); err != nil {
			c.deps.logger.Error().Err(err).Msg("unable to gracefully shutdown admin server")
		}
	}

	closeShared(shutdownCtx, c.deps)

	c.deps.logger.Info().Msg("cleanup completed")
}

// closeShared releases what both binaries hold: the queue connection and telemetry providers.
func closeShared(ctx context.Context, deps *Dependencies) {
	if deps.Infra.QueueClient != nil {
		if err := deps.Infra.QueueClient.Close(); err != nil {
			deps.logger.Error().Err(err).Msg("failed to close queue")
		}
	}

	if err := deps.tracerShutdownFunc(ctx); err != nil {
		deps.logger.Error().Err(err).Msg("failed to shutdown tracer provider")
	}

	if err := deps.Infra.Metrics.Shutdown(ctx); err != nil {
		deps.logger.Error().Err(err).Msg("failed to shutdown metrics provider")
	}
}
