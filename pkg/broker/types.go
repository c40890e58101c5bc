// Package broker implements the notification fabric: durable per-agent
// RabbitMQ queues with manual acknowledgement, bounded retry, and
// dead-lettering of malformed messages.
package broker

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Sentinel errors for broker operations.
var (
	// ErrTransportUnavailable indicates the broker could not be reached
	// after exhausting connection retries.
	ErrTransportUnavailable = errors.New("broker transport unavailable")

	// ErrNotConnected indicates an operation was attempted before Connect.
	ErrNotConnected = errors.New("broker not connected")
)

// Channel is the subset of the AMQP channel API the fabric uses. It exists
// so tests can substitute an in-memory implementation.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

// Dialer opens a broker connection and returns a channel plus a closer for
// the underlying connection. Production uses amqpDial; tests inject fakes.
type Dialer func(url string) (Channel, func() error, error)

// MaxRetries is the per-notification requeue ceiling. A notification whose
// retry count has reached this value is dropped instead of requeued.
const MaxRetries = 3
