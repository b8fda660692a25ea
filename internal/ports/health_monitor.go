package ports

import "time"

type HealthMonitor interface {
	RecordSuccess(duration time.Duration)
	RecordFailure(message string)
}
