package infrastructure

import (
	"errors"
	"strconv"

	"github.com/architeacher/svc-queue-consumer/internal/domain"
	"go.opentelemetry.io/otel/attribute"
)

const (
	httpMethodKey     = "http.method"
	httpPathKey       = "http.path"
	httpStatusCodeKey = "http.status_code"
	statusKey         = "status"
	errorTypeKey      = "error.type"
	operationKey      = "queue.operation"
	attemptKey        = "retry.attempt"
	circuitFromKey    = "circuit.from"
	circuitToKey      = "circuit.to"
	modeKey           = "processing.mode"
	stageKey          = "consumer.stage"
)

func HTTPMethodAttr(method string) attribute.KeyValue {
	return attribute.String(httpMethodKey, method)
}

func HTTPPathAttr(path string) attribute.KeyValue {
	return attribute.String(httpPathKey, path)
}

func HTTPStatusCodeAttr(code int) attribute.KeyValue {
	return attribute.String(httpStatusCodeKey, strconv.Itoa(code))
}

func StatusAttr(status string) attribute.KeyValue {
	return attribute.String(statusKey, status)
}

func ErrorTypeAttr(errorType string) attribute.KeyValue {
	return attribute.String(errorTypeKey, errorType)
}

func OperationAttr(operation string) attribute.KeyValue {
	return attribute.String(operationKey, operation)
}

func AttemptAttr(attempt int) attribute.KeyValue {
	return attribute.Int(attemptKey, attempt)
}

func CircuitFromAttr(state string) attribute.KeyValue {
	return attribute.String(circuitFromKey, state)
}

func CircuitToAttr(state string) attribute.KeyValue {
	return attribute.String(circuitToKey, state)
}

func ModeAttr(mode string) attribute.KeyValue {
	return attribute.String(modeKey, mode)
}

func StageAttr(stage string) attribute.KeyValue {
	return attribute.String(stageKey, stage)
}

// errorTypeOf maps an error to a low-cardinality label.
func errorTypeOf(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, domain.ErrCircuitOpen) {
		return "circuit_open"
	}

	var queueErr *domain.QueueError
	if errors.As(err, &queueErr) {
		return string(queueErr.Category)
	}

	return string(domain.CategoryUnknown)
}
