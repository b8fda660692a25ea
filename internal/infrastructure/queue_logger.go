package infrastructure

import (
	"github.com/architeacher/svc-queue-consumer/pkg/queue"
	"github.com/rs/zerolog"
)

type (
	queueLogger struct {
		logger Logger
	}

	queueLogEvent struct {
		event *zerolog.Event
	}
)

// NewQueueLogger adapts the service logger to the logging surface of pkg/queue.
func NewQueueLogger(logger Logger) queue.Logger {
	return queueLogger{logger: logger.Component("rabbitmq")}
}

func (l queueLogger) Debug() queue.LogEvent { return queueLogEvent{event: l.logger.Debug()} }
func (l queueLogger) Info() queue.LogEvent  { return queueLogEvent{event: l.logger.Info()} }
func (l queueLogger) Warn() queue.LogEvent  { return queueLogEvent{event: l.logger.Warn()} }
func (l queueLogger) Error() queue.LogEvent { return queueLogEvent{event: l.logger.Error()} }

func (e queueLogEvent) Msg(msg string) {
	e.event.Msg(msg)
}

func (e queueLogEvent) Err(err error) queue.LogEvent {
	return queueLogEvent{event: e.event.Err(err)}
}

func (e queueLogEvent) Str(key, value string) queue.LogEvent {
	return queueLogEvent{event: e.event.Str(key, value)}
}

func (e queueLogEvent) Int(key string, value int) queue.LogEvent {
	return queueLogEvent{event: e.event.Int(key, value)}
}
