package queue

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel the client uses.
type amqpChannel interface {
	io.Closer

	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// amqpConnection is the subset of *amqp.Connection the client uses.
type amqpConnection interface {
	io.Closer

	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
}

type connectionAdapter struct {
	*amqp.Connection
}

func (c connectionAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}

// ChannelWrapper serializes access to an AMQP channel, which is not safe for
// concurrent use.
type ChannelWrapper struct {
	amqpChan amqpChannel

	mutex  sync.Mutex
	closed atomic.Bool
}

func newChannelWrapper(ch amqpChannel) *ChannelWrapper {
	return &ChannelWrapper{amqpChan: ch}
}

// Close is a wrapper around amqp091-go.Channel.Close method, which closes a channel.
func (ch *ChannelWrapper) Close() error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.isClosed() {
		return amqp.ErrClosed
	}

	ch.closed.Store(true)

	return ch.amqpChan.Close()
}

func (ch *ChannelWrapper) get(queue string) (amqp.Delivery, bool, error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.isClosed() {
		return amqp.Delivery{}, false, amqp.ErrClosed
	}

	return ch.amqpChan.Get(queue, false)
}

func (ch *ChannelWrapper) ack(tag uint64) error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.isClosed() {
		return amqp.ErrClosed
	}

	return ch.amqpChan.Ack(tag, false)
}

func (ch *ChannelWrapper) requeue(tag uint64) error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.isClosed() {
		return amqp.ErrClosed
	}

	return ch.amqpChan.Nack(tag, false, true)
}

func (ch *ChannelWrapper) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.isClosed() {
		return amqp.ErrClosed
	}

	return ch.amqpChan.PublishWithContext(ctx, "", key, false, false, msg)
}

func (ch *ChannelWrapper) queueDeclare(name string, durable bool) (amqp.Queue, error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	return ch.amqpChan.QueueDeclare(name, durable, false, false, false, nil)
}

// markClosed flags a channel the broker already closed, so it is never used again.
func (ch *ChannelWrapper) markClosed() {
	ch.closed.Store(true)
}

func (ch *ChannelWrapper) isClosed() bool {
	return ch.closed.Load()
}
