package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/internal/service"
)

const (
	initialLineBuffer   = 64 * 1024
	defaultMaxLineBytes = 256 * 1024
)

var _ ports.BackgroundProcessor = (*Processor)(nil)

type (
	Publisher interface {
		Publish(ctx context.Context, payload any, opts service.PublishOptions) (domain.SendResult, error)
	}

	Stats struct {
		Lines      int64
		Published  int64
		Duplicates int64
		Invalid    int64
		Failed     int64
	}

	// Processor publishes every newline-delimited JSON document read from a
	// stream, paced by a token bucket.
	Processor struct {
		reader       io.Reader
		publisher    Publisher
		limiter      *rate.Limiter
		maxLineBytes int
		logger       infrastructure.Logger

		lines      atomic.Int64
		published  atomic.Int64
		duplicates atomic.Int64
		invalid    atomic.Int64
		failed     atomic.Int64
	}
)

func NewProcessor(
	reader io.Reader,
	publisher Publisher,
	cfg config.PublisherConfig,
	logger infrastructure.Logger,
) *Processor {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	maxLineBytes := cfg.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}

	return &Processor{
		reader:       reader,
		publisher:    publisher,
		limiter:      rate.NewLimiter(limit, max(cfg.Burst, 1)),
		maxLineBytes: maxLineBytes,
		logger:       logger,
	}
}

// Start returns nil at the end of the stream. Lines that are not JSON, duplicates
// and failed sends are logged and skipped; a line over the size limit ends the feed.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info().Msg("starting feed processor")

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 0, min(initialLineBuffer, p.maxLineBytes)), p.maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		lineNumber := p.lines.Add(1)

		if !json.Valid(line) {
			p.invalid.Add(1)
			p.logger.Warn().Int64("line", lineNumber).Msg("skipping line that is not valid JSON")

			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := p.publish(ctx, lineNumber, bytes.Clone(line)); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read feed: %w", err)
	}

	stats := p.Stats()
	p.logger.Info().
		Int64("lines", stats.Lines).
		Int64("published", stats.Published).
		Int64("duplicates", stats.Duplicates).
		Int64("invalid", stats.Invalid).
		Int64("failed", stats.Failed).
		Msg("feed processor finished")

	return nil
}

func (p *Processor) publish(ctx context.Context, lineNumber int64, line []byte) error {
	result, err := p.publisher.Publish(ctx, json.RawMessage(line), service.PublishOptions{})

	switch {
	case err == nil:
		p.published.Add(1)
		p.logger.Debug().
			Int64("line", lineNumber).
			Str("message_id", result.MessageID).
			Msg("line published")
	case errors.Is(err, domain.ErrDuplicate):
		p.duplicates.Add(1)
		p.logger.Info().Int64("line", lineNumber).Msg("skipping duplicate line")
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		p.failed.Add(1)
		p.logger.Error().Err(err).Int64("line", lineNumber).Msg("failed to publish line")
	}

	return nil
}

func (p *Processor) Stats() Stats {
	return Stats{
		Lines:      p.lines.Load(),
		Published:  p.published.Load(),
		Duplicates: p.duplicates.Load(),
		Invalid:    p.invalid.Load(),
		Failed:     p.failed.Load(),
	}
}
