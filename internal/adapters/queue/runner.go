package queue

import (
	"context"

	"github.com/architeacher/svc-queue-consumer/internal/ports"
)

var _ ports.BackgroundProcessor = (*Runner)(nil)

// Runner binds a consumer loop to a handler so it can run as a background processor.
type Runner struct {
	loop    *ConsumerLoop
	handler ports.MessageHandler
}

func NewRunner(loop *ConsumerLoop, handler ports.MessageHandler) *Runner {
	return &Runner{
		loop:    loop,
		handler: handler,
	}
}

func (r *Runner) Start(ctx context.Context) error {
	return r.loop.Start(ctx, r.handler)
}

func (r *Runner) Stop() {
	r.loop.Stop()
}
