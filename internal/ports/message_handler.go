package ports

import (
	"context"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
)

// MessageHandler processes one message. A nil error marks the message for deletion.
type MessageHandler func(ctx context.Context, body domain.Body, msgCtx domain.MessageContext) error
