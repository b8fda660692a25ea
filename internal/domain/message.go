package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

var ErrBodyNotJSON = errors.New("message body is not JSON")

type (
	// RawMessage is a message as returned by the queue.
	RawMessage struct {
		ID              string
		ReceiptHandle   string
		Body            []byte
		Attributes      map[string]string
		GroupID         string
		DeduplicationID string
		ReceiveCount    int
		SentAt          time.Time
	}

	// MessageContext is the read-only metadata a handler receives alongside the body.
	MessageContext struct {
		MessageID       string
		ReceiptHandle   string
		Attributes      map[string]string
		GroupID         string
		DeduplicationID string
		ReceiveCount    int
	}

	// Body holds the payload of a received message.
	Body struct {
		raw  []byte
		json bool
	}

	OutgoingMessage struct {
		Body            []byte
		GroupID         string
		DeduplicationID string
		Attributes      map[string]string
		Delay           time.Duration
	}

	SendResult struct {
		MessageID       string
		DeduplicationID string
	}
)

// NewMessageContext copies the metadata of msg. Attributes are cloned so handlers
// cannot mutate the receiver's map.
func NewMessageContext(msg RawMessage) MessageContext {
	return MessageContext{
		MessageID:       msg.ID,
		ReceiptHandle:   msg.ReceiptHandle,
		Attributes:      maps.Clone(msg.Attributes),
		GroupID:         msg.GroupID,
		DeduplicationID: msg.DeduplicationID,
		ReceiveCount:    msg.ReceiveCount,
	}
}

// ParseBody classifies raw as JSON when it holds a valid JSON document.
func ParseBody(raw []byte) Body {
	trimmed := bytes.TrimSpace(raw)

	return Body{
		raw:  raw,
		json: len(trimmed) > 0 && json.Valid(trimmed),
	}
}

func (b Body) Bytes() []byte {
	return b.raw
}

func (b Body) String() string {
	return string(b.raw)
}

func (b Body) IsJSON() bool {
	return b.json
}

// Unmarshal decodes a JSON body into target.
func (b Body) Unmarshal(target any) error {
	if !b.json {
		return ErrBodyNotJSON
	}

	if err := json.Unmarshal(b.raw, target); err != nil {
		return fmt.Errorf("could not unmarshal message body: %w", err)
	}

	return nil
}
