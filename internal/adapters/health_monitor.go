package adapters

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/infrastructure"
	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/architeacher/svc-queue-consumer/internal/resilience"
)

// degradedAfter consecutive handler failures reports the consumer as degraded.
const degradedAfter = 5

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type (
	// HealthSnapshot is a point-in-time copy of the monitor counters.
	HealthSnapshot struct {
		Processed           int64         `json:"processed"`
		Failed              int64         `json:"failed"`
		ConsecutiveFailures int64         `json:"consecutive_failures"`
		AverageDuration     time.Duration `json:"-"`
		AverageDurationMs   float64       `json:"average_duration_ms"`
		LastError           string        `json:"last_error,omitempty"`
		LastErrorAt         *time.Time    `json:"last_error_at,omitempty"`
	}

	HealthReport struct {
		Status       HealthStatus   `json:"status"`
		CircuitState string         `json:"circuit_state"`
		Uptime       float64        `json:"uptime_seconds"`
		Consumer     HealthSnapshot `json:"consumer"`
	}

	lastFailure struct {
		message string
		at      time.Time
	}

	// HealthMonitor collects message outcomes reported by the consumer loop.
	HealthMonitor struct {
		startTime time.Time
		logger    infrastructure.Logger
		now       func() time.Time

		processed     atomic.Int64
		failed        atomic.Int64
		consecutive   atomic.Int64
		totalDuration atomic.Int64

		mu   sync.RWMutex
		last lastFailure
	}
)

var _ ports.HealthMonitor = (*HealthMonitor)(nil)

func NewHealthMonitor(logger infrastructure.Logger) *HealthMonitor {
	return newHealthMonitor(logger, time.Now)
}

func newHealthMonitor(logger infrastructure.Logger, now func() time.Time) *HealthMonitor {
	return &HealthMonitor{
		startTime: now(),
		logger:    logger,
		now:       now,
	}
}

func (h *HealthMonitor) RecordSuccess(duration time.Duration) {
	h.processed.Add(1)
	h.totalDuration.Add(int64(duration))
	h.consecutive.Store(0)
}

func (h *HealthMonitor) RecordFailure(message string) {
	h.failed.Add(1)

	if h.consecutive.Add(1) == degradedAfter {
		h.logger.Warn().
			Int("consecutive_failures", degradedAfter).
			Str("last_error", message).
			Msg("consumer degraded")
	}

	h.mu.Lock()
	h.last = lastFailure{message: message, at: h.now()}
	h.mu.Unlock()
}

func (h *HealthMonitor) Snapshot() HealthSnapshot {
	snapshot := HealthSnapshot{
		Processed:           h.processed.Load(),
		Failed:              h.failed.Load(),
		ConsecutiveFailures: h.consecutive.Load(),
	}

	if snapshot.Processed > 0 {
		snapshot.AverageDuration = time.Duration(h.totalDuration.Load() / snapshot.Processed)
		snapshot.AverageDurationMs = float64(snapshot.AverageDuration) / float64(time.Millisecond)
	}

	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()

	if last.message != "" {
		at := last.at
		snapshot.LastError = last.message
		snapshot.LastErrorAt = &at
	}

	return snapshot
}

// Report combines the monitor counters with the breaker state. An open breaker
// means the queue is unreachable and the service is unhealthy.
func (h *HealthMonitor) Report(breaker *resilience.CircuitBreaker) HealthReport {
	report := HealthReport{
		Status:       HealthStatusHealthy,
		CircuitState: resilience.StateClosed.String(),
		Uptime:       h.now().Sub(h.startTime).Seconds(),
		Consumer:     h.Snapshot(),
	}

	if breaker != nil {
		state := breaker.State()
		report.CircuitState = state.String()

		switch state {
		case resilience.StateOpen:
			report.Status = HealthStatusUnhealthy
		case resilience.StateHalfOpen:
			report.Status = HealthStatusDegraded
		}
	}

	if report.Status == HealthStatusHealthy && report.Consumer.ConsecutiveFailures >= degradedAfter {
		report.Status = HealthStatusDegraded
	}

	return report
}

// HealthHandler serves the health report. Unhealthy reports answer 503.
func (h *HealthMonitor) HealthHandler(breaker *resilience.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report := h.Report(breaker)

		statusCode := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(report); err != nil {
			h.logger.Error().Err(err).Msg("failed to encode health report")
		}
	}
}
