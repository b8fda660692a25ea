package domain

import (
	"time"
)

type (
	// ProcessingError records a single failed message.
	ProcessingError struct {
		MessageID string
		Err       error
		Timestamp time.Time
	}

	// Outcome records a single successfully handled message.
	Outcome struct {
		Context  MessageContext
		Duration time.Duration
	}

	BatchResult struct {
		Total          int
		Successful     int
		Failed         int
		Errors         []ProcessingError
		Succeeded      []Outcome
		ProcessingTime time.Duration
	}
)

func (e ProcessingError) Error() string {
	if e.Err == nil {
		return "message " + e.MessageID + " failed"
	}

	return "message " + e.MessageID + ": " + e.Err.Error()
}

func (e ProcessingError) Unwrap() error {
	return e.Err
}

// ReceiptHandles returns the receipt handles of successfully handled messages.
func (r BatchResult) ReceiptHandles() []string {
	handles := make([]string, 0, len(r.Succeeded))
	for _, outcome := range r.Succeeded {
		handles = append(handles, outcome.Context.ReceiptHandle)
	}

	return handles
}
