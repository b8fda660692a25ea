package infrastructure

import (
	"context"
	"net/http"
	"time"
)

type NoOpMetrics struct{}

func (n *NoOpMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration, _, _ int64) {
}

func (n *NoOpMetrics) RecordQueueOperation(_ context.Context, _ string, _ time.Duration, _ error) {
}

func (n *NoOpMetrics) RecordRetry(_ context.Context, _ string, _ int) {
}

func (n *NoOpMetrics) RecordCircuitTransition(_ context.Context, _, _ string) {
}

func (n *NoOpMetrics) RecordMessageProcessed(_ context.Context, _ time.Duration, _ bool) {
}

func (n *NoOpMetrics) RecordBatch(_ context.Context, _ string, _, _ int, _ time.Duration) {
}

func (n *NoOpMetrics) RecordDuplicate(_ context.Context) {
}

func (n *NoOpMetrics) RecordLoopFault(_ context.Context, _ string) {
}

func (n *NoOpMetrics) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (n *NoOpMetrics) Shutdown(_ context.Context) error {
	return nil
}
