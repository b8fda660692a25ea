package queue

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultVisibilityTimeout = 30 * time.Second
	defaultPollInterval      = 200 * time.Millisecond
	publishingTimeout        = 3 * time.Second
)

type dialFunc func(url string) (amqpConnection, error)

type clientOptions struct {
	reconnectDelay    time.Duration
	visibilityTimeout time.Duration
	pollInterval      time.Duration
	publishTimeout    time.Duration
	logger            Logger
	dial              dialFunc
	now               func() time.Time
}

// Option configures a Client.
type Option func(options *clientOptions)

// WithLogger sets the logger used for connection and delivery events.
func WithLogger(l Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReconnectDelay sets the delay between reconnection attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectDelay = delay
	}
}

// WithVisibilityTimeout sets how long a received message stays hidden from other
// receivers before it is handed back to the queue unacknowledged.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.visibilityTimeout = d
	}
}

// WithPollInterval sets how often an empty queue is polled while long-polling.
func WithPollInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.pollInterval = d
	}
}

// WithPublishingTimeout sets the timeout used when publishing a message.
func WithPublishingTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.publishTimeout = d
	}
}

func withDialer(dial dialFunc) Option {
	return func(o *clientOptions) {
		o.dial = dial
	}
}

func withClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		reconnectDelay:    defaultReconnectDelay,
		visibilityTimeout: defaultVisibilityTimeout,
		pollInterval:      defaultPollInterval,
		publishTimeout:    publishingTimeout,
		logger:            nopLogger{},
		dial:              dialAMQP,
		now:               time.Now,
	}
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	return connectionAdapter{Connection: conn}, nil
}
