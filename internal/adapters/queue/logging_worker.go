package queue

import (
	"context"
	"errors"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
)

var ErrEmptyMessage = errors.New("message body is empty")

// LoggingWorker is the default subscriber handler: it logs every message and
// rejects empty bodies so they stay on the queue for inspection.
type LoggingWorker struct {
	logger infrastructure.Logger
}

func NewLoggingWorker(logger infrastructure.Logger) *LoggingWorker {
	return &LoggingWorker{
		logger: logger,
	}
}

// Handle implements ports.MessageHandler.
func (w *LoggingWorker) Handle(_ context.Context, body domain.Body, msgCtx domain.MessageContext) error {
	if len(body.Bytes()) == 0 {
		return ErrEmptyMessage
	}

	event := w.logger.Info().
		Str("message_id", msgCtx.MessageID).
		Int("receive_count", msgCtx.ReceiveCount).
		Int("size_bytes", len(body.Bytes())).
		Bool("json", body.IsJSON())

	if msgCtx.GroupID != "" {
		event = event.Str("group_id", msgCtx.GroupID)
	}

	if msgCtx.DeduplicationID != "" {
		event = event.Str("deduplication_id", msgCtx.DeduplicationID)
	}

	if body.IsJSON() {
		event = event.RawJSON("body", body.Bytes())
	} else {
		event = event.Str("body", body.String())
	}

	event.Msg("message received")

	return nil
}
