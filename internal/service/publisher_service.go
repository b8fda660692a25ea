package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/dedup"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
)

type (
	DedupCache interface {
		GenerateKey(body []byte, opts dedup.KeyOptions) string
		IsDuplicate(key string) bool
		Remove(key string)
	}

	PublishOptions struct {
		GroupID string
		// DeduplicationID overrides the key derived by the cache strategy.
		DeduplicationID string
		Attributes      map[string]string
		Delay           time.Duration
	}

	PublisherService struct {
		client  ports.QueueClient
		cache   DedupCache
		logger  infrastructure.Logger
		metrics infrastructure.Metrics
	}
)

func NewPublisherService(
	client ports.QueueClient,
	cache DedupCache,
	logger infrastructure.Logger,
	metrics infrastructure.Metrics,
) *PublisherService {
	return &PublisherService{
		client:  client,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Publish marshals payload to JSON and sends it unless the same dedup key was
// seen within the cache window. A failed send releases the key so the caller
// can publish again.
func (s *PublisherService) Publish(ctx context.Context, payload any, opts PublishOptions) (domain.SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	key := opts.DeduplicationID
	if key == "" {
		key = s.cache.GenerateKey(body, dedup.KeyOptions{GroupID: opts.GroupID})
	}

	if s.cache.IsDuplicate(key) {
		s.metrics.RecordDuplicate(ctx)
		s.logger.Debug().
			Str("dedup_key", key).
			Str("group_id", opts.GroupID).
			Msg("duplicate message suppressed")

		return domain.SendResult{}, &domain.DuplicateMessageError{Key: key}
	}

	result, err := s.client.Send(ctx, domain.OutgoingMessage{
		Body:            body,
		GroupID:         opts.GroupID,
		DeduplicationID: key,
		Attributes:      opts.Attributes,
		Delay:           opts.Delay,
	})
	if err != nil {
		s.cache.Remove(key)

		return domain.SendResult{}, fmt.Errorf("failed to send message: %w", err)
	}

	if result.DeduplicationID == "" {
		result.DeduplicationID = key
	}

	s.logger.Debug().
		Str("message_id", result.MessageID).
		Str("dedup_key", key).
		Msg("message published")

	return result, nil
}
