package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type queueSpec struct {
	name    string
	durable bool
}

type inflightDelivery struct {
	queue    string
	deadline time.Time
}

// Client exposes send / receive / delete semantics on top of RabbitMQ.
//
// Messages are pulled with basic.get and stay unacknowledged until Delete acks
// them by receipt handle. A message that is not deleted within the visibility
// timeout is handed back to the queue on the next Receive. Reconnecting drops
// every in-flight receipt; the broker requeues those deliveries itself.
type Client struct {
	config Config
	opts   clientOptions

	mutex      sync.Mutex
	conn       amqpConnection
	channel    *ChannelWrapper
	generation uint64
	inflight   map[uint64]inflightDelivery
	queues     []queueSpec
	closed     bool

	done chan struct{}
}

// NewClient creates a client. Connect must be called before use.
func NewClient(config Config, opts ...Option) *Client {
	options := defaultClientOptions()

	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		config:   config,
		opts:     options,
		inflight: make(map[uint64]inflightDelivery),
		done:     make(chan struct{}),
	}
}

// Connect establishes a connection to RabbitMQ.
func (c *Client) Connect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	conn, err := c.opts.dial(getURL(c.config))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, notify, err := c.openChannel(conn)
	if err != nil {
		_ = conn.Close()

		return err
	}

	c.conn = conn
	c.installChannelLocked(channel, notify)

	go c.watch(conn)

	c.opts.logger.Info().Str("host", c.config.Host).Msg("connected to RabbitMQ")

	return nil
}

// openChannel opens a channel on conn, subscribes to its close notification and
// redeclares every known queue on it.
func (c *Client) openChannel(conn amqpConnection) (*ChannelWrapper, chan *amqp.Error, error) {
	amqpCh, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	notify := amqpCh.NotifyClose(make(chan *amqp.Error, 1))
	channel := newChannelWrapper(amqpCh)

	for _, q := range c.queues {
		if _, err := channel.queueDeclare(q.name, q.durable); err != nil {
			_ = channel.Close()

			return nil, nil, fmt.Errorf("failed to redeclare queue %s: %w", q.name, err)
		}
	}

	return channel, notify, nil
}

// installChannelLocked makes channel current. Receipts issued on the previous
// channel become stale; the broker requeues their deliveries.
func (c *Client) installChannelLocked(channel *ChannelWrapper, notify chan *amqp.Error) {
	c.channel = channel
	c.generation++
	clear(c.inflight)

	go c.watchChannel(channel, notify)
}

func (c *Client) reopenChannelLocked() error {
	channel, notify, err := c.openChannel(c.conn)
	if err != nil {
		return err
	}

	c.installChannelLocked(channel, notify)

	c.opts.logger.Info().Msg("RabbitMQ channel reopened")

	return nil
}

// watchChannel reopens channel when the broker closes it while the connection
// stays up. Connection loss is left to watch.
func (c *Client) watchChannel(channel *ChannelWrapper, notify chan *amqp.Error) {
	select {
	case <-c.done:
		return
	case amqpErr, ok := <-notify:
		if !ok || amqpErr == nil {
			return
		}

		channel.markClosed()

		c.opts.logger.Warn().Err(amqpErr).Msg("RabbitMQ channel closed by broker, reopening")
	}

	for {
		c.mutex.Lock()
		if c.closed || c.channel != channel || c.conn == nil || c.conn.IsClosed() {
			c.mutex.Unlock()

			return
		}

		err := c.reopenChannelLocked()
		c.mutex.Unlock()

		if err == nil {
			return
		}

		c.opts.logger.Error().Err(err).Msg("failed to reopen RabbitMQ channel")

		select {
		case <-c.done:
			return
		case <-time.After(c.opts.reconnectDelay):
		}
	}
}

// discardChannelLocked retires channel when err shows the broker closed it. The
// next operation opens a fresh one.
func (c *Client) discardChannelLocked(channel *ChannelWrapper, err error) {
	if c.channel == channel && isChannelClosed(err) {
		channel.markClosed()
	}
}

func (c *Client) watch(conn amqpConnection) {
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-c.done:
		return
	case amqpErr, ok := <-notify:
		if !ok || amqpErr == nil {
			return
		}

		c.opts.logger.Warn().Err(amqpErr).Msg("RabbitMQ connection lost, reconnecting")
	}

	for {
		select {
		case <-c.done:
			return
		case <-time.After(c.opts.reconnectDelay):
		}

		c.mutex.Lock()
		if c.closed {
			c.mutex.Unlock()

			return
		}

		err := c.connectLocked()
		c.mutex.Unlock()

		if err == nil {
			return
		}

		c.opts.logger.Error().Err(err).Msg("failed to reconnect to RabbitMQ")
	}
}

// Close closes the channel and the connection. The client cannot be reused.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.channel != nil {
		_ = c.channel.Close()
	}

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}

	return nil
}

// IsConnected returns true if connected to RabbitMQ.
func (c *Client) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return !c.closed && c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.isClosed()
}

// DeclareQueue declares a queue and redeclares it after every reconnect.
func (c *Client) DeclareQueue(name string, durable bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	channel, err := c.currentChannelLocked()
	if err != nil {
		return err
	}

	if _, err := channel.queueDeclare(name, durable); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	c.queues = append(c.queues, queueSpec{name: name, durable: durable})

	return nil
}

// Send publishes a message to the named queue through the default exchange and
// returns the generated message id.
func (c *Client) Send(ctx context.Context, queueName string, msg Publishing) (string, error) {
	c.mutex.Lock()
	channel, err := c.currentChannelLocked()
	c.mutex.Unlock()

	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, c.opts.publishTimeout)
	defer cancel()

	if err := channel.publish(ctx, queueName, msg.toAMQP(messageID, c.opts.now())); err != nil {
		c.mutex.Lock()
		c.discardChannelLocked(channel, err)
		c.mutex.Unlock()

		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	return messageID, nil
}

// Receive returns up to maxMessages deliveries. When the queue is empty it keeps
// polling until a message arrives, waitTime elapses, or ctx is done.
func (c *Client) Receive(ctx context.Context, queueName string, maxMessages int, waitTime time.Duration) ([]Delivery, error) {
	if maxMessages < 1 {
		return nil, nil
	}

	deadline := c.opts.now().Add(waitTime)

	for {
		deliveries, err := c.drain(queueName, maxMessages)
		if err != nil {
			return nil, err
		}

		remaining := deadline.Sub(c.opts.now())
		if len(deliveries) > 0 || remaining <= 0 {
			return deliveries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(min(c.opts.pollInterval, remaining)):
		}
	}
}

func (c *Client) drain(queueName string, maxMessages int) ([]Delivery, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	channel, err := c.currentChannelLocked()
	if err != nil {
		return nil, err
	}

	c.requeueExpiredLocked(channel)

	var deliveries []Delivery

	for len(deliveries) < maxMessages {
		d, ok, err := channel.get(queueName)
		if err != nil {
			c.discardChannelLocked(channel, err)

			if len(deliveries) > 0 {
				c.opts.logger.Warn().Err(err).Msg("receive interrupted, returning partial batch")

				break
			}

			return nil, fmt.Errorf("failed to get message from %s: %w", queueName, err)
		}

		if !ok {
			break
		}

		c.inflight[d.DeliveryTag] = inflightDelivery{
			queue:    queueName,
			deadline: c.opts.now().Add(c.opts.visibilityTimeout),
		}

		deliveries = append(deliveries, newDelivery(d, formatReceipt(c.generation, d.DeliveryTag)))
	}

	return deliveries, nil
}

func (c *Client) requeueExpiredLocked(channel *ChannelWrapper) {
	now := c.opts.now()

	for tag, entry := range c.inflight {
		if now.Before(entry.deadline) {
			continue
		}

		delete(c.inflight, tag)

		if err := channel.requeue(tag); err != nil {
			c.discardChannelLocked(channel, err)
			c.opts.logger.Error().Err(err).Str("queue", entry.queue).Msg("failed to requeue expired delivery")

			continue
		}

		c.opts.logger.Debug().Str("queue", entry.queue).Msg("visibility timeout expired, delivery requeued")
	}
}

// Delete acknowledges the delivery identified by receiptHandle.
func (c *Client) Delete(_ context.Context, receiptHandle string) error {
	generation, tag, err := parseReceipt(receiptHandle)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	channel, err := c.currentChannelLocked()
	if err != nil {
		return err
	}

	if generation != c.generation {
		return fmt.Errorf("%w: %s", ErrStaleReceipt, receiptHandle)
	}

	if _, ok := c.inflight[tag]; !ok {
		return fmt.Errorf("%w: %s", ErrStaleReceipt, receiptHandle)
	}

	if err := channel.ack(tag); err != nil {
		c.discardChannelLocked(channel, err)

		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	delete(c.inflight, tag)

	return nil
}

// InFlight returns the number of received, unacknowledged deliveries.
func (c *Client) InFlight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.inflight)
}

func (c *Client) currentChannelLocked() (*ChannelWrapper, error) {
	if c.closed {
		return nil, ErrClientClosed
	}

	if c.conn == nil || c.conn.IsClosed() {
		return nil, ErrNotConnected
	}

	if c.channel == nil || c.channel.isClosed() {
		if err := c.reopenChannelLocked(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}

	return c.channel, nil
}

// isChannelClosed reports whether err from a channel operation means the channel
// is gone. The broker answers a channel exception by closing the channel.
func isChannelClosed(err error) bool {
	var amqpErr *amqp.Error

	return errors.Is(err, amqp.ErrClosed) || errors.As(err, &amqpErr)
}

// IsConnectionError reports whether err means the broker connection or channel is gone.
func IsConnectionError(err error) bool {
	if errors.Is(err, ErrNotConnected) || errors.Is(err, amqp.ErrClosed) {
		return true
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.ConnectionForced, amqp.ChannelError, amqp.FrameError, amqp.UnexpectedFrame:
			return true
		}
	}

	return false
}
