package mocks

import (
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/ports"
	"github.com/stretchr/testify/mock"
)

var _ ports.HealthMonitor = (*HealthMonitor)(nil)

type HealthMonitor struct {
	mock.Mock
}

func (m *HealthMonitor) RecordSuccess(duration time.Duration) {
	m.Called(duration)
}

func (m *HealthMonitor) RecordFailure(message string) {
	m.Called(message)
}
