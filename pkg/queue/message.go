package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerGroupID         = "x-group-id"
	headerDeduplicationID = "x-deduplication-id"
	// headerDelay is honoured by exchanges of the delayed-message plugin.
	headerDelay = "x-delay"
	// headerDeliveryCount is set by quorum queues on redelivery.
	headerDeliveryCount = "x-delivery-count"

	contentTypeJSON = "application/json"
)

var (
	ErrNotConnected   = errors.New("not connected to RabbitMQ")
	ErrClientClosed   = errors.New("queue client closed")
	ErrInvalidReceipt = errors.New("invalid receipt handle")
	// ErrStaleReceipt reports a receipt whose delivery is no longer held by this
	// client: it was already acknowledged, its visibility timeout expired, or the
	// channel it was received on has been replaced.
	ErrStaleReceipt = errors.New("stale receipt handle")
)

// Publishing is an outgoing message.
type Publishing struct {
	Body            []byte
	ContentType     string
	GroupID         string
	DeduplicationID string
	Headers         map[string]string
	Delay           time.Duration
}

// Delivery is a received, not yet acknowledged message.
type Delivery struct {
	MessageID       string
	ReceiptHandle   string
	Body            []byte
	Headers         map[string]string
	GroupID         string
	DeduplicationID string
	// ReceiveCount starts at 1 for the first delivery.
	ReceiveCount int
	Timestamp    time.Time
}

func (p Publishing) toAMQP(messageID string, now time.Time) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range p.Headers {
		headers[k] = v
	}

	if p.GroupID != "" {
		headers[headerGroupID] = p.GroupID
	}

	if p.DeduplicationID != "" {
		headers[headerDeduplicationID] = p.DeduplicationID
	}

	if p.Delay > 0 {
		headers[headerDelay] = p.Delay.Milliseconds()
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = contentTypeJSON
	}

	return amqp.Publishing{
		ContentType:  contentType,
		Body:         p.Body,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    now,
		Headers:      headers,
	}
}

func newDelivery(d amqp.Delivery, receiptHandle string) Delivery {
	out := Delivery{
		MessageID:     d.MessageId,
		ReceiptHandle: receiptHandle,
		Body:          d.Body,
		Headers:       make(map[string]string, len(d.Headers)),
		ReceiveCount:  1,
		Timestamp:     d.Timestamp,
	}

	for k, v := range d.Headers {
		switch k {
		case headerGroupID:
			out.GroupID = fmt.Sprint(v)
		case headerDeduplicationID:
			out.DeduplicationID = fmt.Sprint(v)
		case headerDeliveryCount:
			if n, ok := toInt(v); ok {
				out.ReceiveCount = n + 1
			}
		default:
			out.Headers[k] = fmt.Sprint(v)
		}
	}

	if out.ReceiveCount == 1 && d.Redelivered {
		out.ReceiveCount = 2
	}

	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)

		return i, err == nil
	default:
		return 0, false
	}
}

func formatReceipt(generation, tag uint64) string {
	return strconv.FormatUint(generation, 10) + "." + strconv.FormatUint(tag, 10)
}

func parseReceipt(handle string) (generation, tag uint64, err error) {
	genPart, tagPart, ok := strings.Cut(handle, ".")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, handle)
	}

	generation, err = strconv.ParseUint(genPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, handle)
	}

	tag, err = strconv.ParseUint(tagPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, handle)
	}

	return generation, tag, nil
}
