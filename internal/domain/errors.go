package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrHandlerRequired = errors.New("message handler is required")
	ErrAlreadyRunning  = errors.New("consumer loop already running")
	ErrHandlerPanic    = errors.New("message handler panicked")
	ErrHandlerTimeout  = errors.New("message handler timed out")
	ErrDuplicate       = errors.New("duplicate message")
)

// ErrorCategory classifies queue failures.
type ErrorCategory string

const (
	CategoryThrottling         ErrorCategory = "throttling"
	CategoryServiceUnavailable ErrorCategory = "service_unavailable"
	CategoryNetwork            ErrorCategory = "network"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryValidation         ErrorCategory = "validation"
	CategoryInvalidParameter   ErrorCategory = "invalid_parameter"
	CategoryNotFound           ErrorCategory = "not_found"
	CategoryUnknown            ErrorCategory = "unknown"
)

type (
	CircuitOpenError struct {
		Op          string
		Failures    int
		LastFailure time.Time
		RetryAfter  time.Time
	}

	// QueueError is returned by queue clients for a failed operation.
	QueueError struct {
		Op       string
		Category ErrorCategory
		Err      error
	}

	DuplicateMessageError struct {
		Key string
	}

	// LoopFault is a consumer iteration failure that is logged and survived.
	LoopFault struct {
		Stage string
		Err   error
	}
)

func (c ErrorCategory) Transient() bool {
	switch c {
	case CategoryThrottling, CategoryServiceUnavailable, CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter.IsZero() {
		return fmt.Sprintf("circuit breaker open: %s blocked (failures=%d)", e.Op, e.Failures)
	}

	return fmt.Sprintf("circuit breaker open: %s blocked (failures=%d, retry after %s)",
		e.Op, e.Failures, e.RetryAfter.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

func NewQueueError(op string, category ErrorCategory, err error) *QueueError {
	return &QueueError{
		Op:       op,
		Category: category,
		Err:      err,
	}
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s failed (%s): %v", e.Op, e.Category, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

func (e *DuplicateMessageError) Error() string {
	return "duplicate message: " + e.Key
}

func (e *DuplicateMessageError) Is(target error) bool {
	return target == ErrDuplicate
}

func (e *LoopFault) Error() string {
	return fmt.Sprintf("consumer %s: %v", e.Stage, e.Err)
}

func (e *LoopFault) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying. An open circuit and a canceled
// context are never transient; unclassified errors are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	var queueErr *QueueError
	if errors.As(err, &queueErr) {
		return queueErr.Category.Transient()
	}

	return true
}
