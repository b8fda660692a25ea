package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const publisherCleanupTimeout = 10 * time.Second

type PublisherCtx struct {
	deps *Dependencies

	input io.Reader

	shutdownChannel chan os.Signal

	backgroundActorCtx      context.Context
	backgroundActorStopFunc context.CancelFunc

	feedDone chan error
}

func NewPublisher(opt ...PublisherOption) *PublisherCtx {
	pCtx := &PublisherCtx{
		input:           os.Stdin,
		shutdownChannel: make(chan os.Signal, 1),
		feedDone:        make(chan error, 1),
	}

	for i := range opt {
		opt[i](pCtx)
	}

	return pCtx
}

func (c *PublisherCtx) Run() {
	c.build()
	c.start()
	c.shutdownHook()

	if err := c.shutdown(); err != nil {
		os.Exit(1)
	}
}

func (c *PublisherCtx) build() {
	c.backgroundActorCtx, c.backgroundActorStopFunc = context.WithCancel(context.Background())

	deps, err := initializeDependencies(c.backgroundActorCtx, WithPublisher(c.input))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	c.deps = deps
}

func (c *PublisherCtx) start() {
	go func() {
		c.deps.logger.Info().
			Str("queue", c.deps.cfg.Queue.QueueName).
			Msg("starting feed publisher")

		c.feedDone <- c.deps.Workers.Feed.Start(c.backgroundActorCtx)
	}()
}

func (c *PublisherCtx) shutdownHook() {
	signal.Notify(c.shutdownChannel, syscall.SIGINT, syscall.SIGTERM)
}

// shutdown waits for the feed to reach the end of its input or for a signal,
// and returns the feed error, if any.
func (c *PublisherCtx) shutdown() error {
	var err error

	select {
	case err = <-c.feedDone:
	case <-c.shutdownChannel:
		c.deps.logger.Info().Msg("received shutdown signal")

		c.backgroundActorStopFunc()
		err = <-c.feedDone
	}

	c.backgroundActorStopFunc()

	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if err != nil {
		c.deps.logger.Error().Err(err).Msg("feed publisher failed")
	}

	c.cleanup()

	c.deps.logger.Info().Msg("feed publisher stopped")

	return err
}

func (c *PublisherCtx) cleanup() {
	c.deps.logger.Info().Msg("cleaning up resources...")

	ctx, cancel := context.WithTimeout(context.Background(), publisherCleanupTimeout)
	defer cancel()

	closeShared(ctx, c.deps)

	c.deps.logger.Info().Msg("cleanup completed")
}
