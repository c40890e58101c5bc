package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kindred-labs/kindred/pkg/models"
)

const (
	heartbeatInterval  = 10 * time.Minute
	blockedDialTimeout = 5 * time.Minute

	connectAttempts  = 10
	connectBaseDelay = 5 * time.Second
	connectMaxDelay  = 60 * time.Second
)

// Fabric is a per-agent connection to the notification broker. It owns a
// single channel with prefetch 1; one cycle at a time is processed, so
// back-pressure is natural.
type Fabric struct {
	agentName string
	queueName string
	url       string
	dial      Dialer
	log       *slog.Logger
	breaker   *errorBreaker

	mu        sync.Mutex
	ch        Channel
	closeConn func() error
	declared  map[string]bool
}

// Option customizes a Fabric.
type Option func(*Fabric)

// WithDialer overrides the AMQP dialer (used by tests).
func WithDialer(d Dialer) Option {
	return func(f *Fabric) { f.dial = d }
}

// New creates a fabric for the named agent. Connect must be called before
// any other operation.
func New(agentName, url string, opts ...Option) *Fabric {
	f := &Fabric{
		agentName: agentName,
		queueName: models.QueueName(agentName),
		url:       url,
		dial:      amqpDial,
		log:       slog.With("agent", agentName),
		breaker:   newErrorBreaker(errorBreakerLimit, errorBreakerWindow),
		declared:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// amqpDial is the production dialer: heartbeat 10 min, dial timeout 5 min.
func amqpDial(url string) (Channel, func() error, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeatInterval,
		Dial:      amqp.DefaultDial(blockedDialTimeout),
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// QueueName returns the agent's inbound queue name.
func (f *Fabric) QueueName() string { return f.queueName }

// Connect establishes the broker connection with exponential backoff
// (base 5s, cap 60s, 10 attempts), declares the agent's durable queue, and
// sets prefetch to 1. Returns ErrTransportUnavailable on exhaustion.
func (f *Fabric) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var lastErr error
	delay := connectBaseDelay
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		ch, closeConn, err := f.dial(f.url)
		if err == nil {
			if err = f.setup(ch); err == nil {
				f.ch = ch
				f.closeConn = closeConn
				f.log.Info("Connected to broker", "queue", f.queueName)
				return nil
			}
			_ = ch.Close()
			if closeConn != nil {
				_ = closeConn()
			}
		}
		lastErr = err
		f.log.Warn("Broker connection failed", "attempt", attempt, "error", err)

		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > connectMaxDelay {
			delay = connectMaxDelay
		}
	}
	return fmt.Errorf("%w: %v", ErrTransportUnavailable, lastErr)
}

func (f *Fabric) setup(ch Channel) error {
	if _, err := ch.QueueDeclare(f.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", f.queueName, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}
	f.declared[f.queueName] = true
	return nil
}

// Close tears down the channel and connection.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return nil
	}
	_ = f.ch.Close()
	f.ch = nil
	if f.closeConn != nil {
		err := f.closeConn()
		f.closeConn = nil
		return err
	}
	return nil
}

// Drain pops all currently-available messages from the agent's queue without
// blocking. Malformed bodies and misaddressed notifications are nack'd
// without requeue and omitted from the result.
func (f *Fabric) Drain() ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return nil, ErrNotConnected
	}

	var out []models.Notification
	for {
		delivery, ok, err := f.ch.Get(f.queueName, false)
		if err != nil {
			return out, fmt.Errorf("draining %s: %w", f.queueName, err)
		}
		if !ok {
			return out, nil
		}

		var n models.Notification
		if err := json.Unmarshal(delivery.Body, &n); err != nil {
			f.log.Warn("Dead-lettering malformed notification", "error", err)
			_ = f.ch.Nack(delivery.DeliveryTag, false, false)
			continue
		}
		if n.RecipientAgentID != f.agentName {
			f.log.Warn("Dead-lettering misaddressed notification",
				"recipient", n.RecipientAgentID, "notification_id", n.NotificationID)
			_ = f.ch.Nack(delivery.DeliveryTag, false, false)
			continue
		}
		n.DeliveryTag = delivery.DeliveryTag
		out = append(out, n)
	}
}

// Publish sends a durable notification to the named queue, declaring it
// lazily if this fabric has not seen it before.
func (f *Fabric) Publish(ctx context.Context, queue string, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publishLocked(ctx, queue, n)
}

func (f *Fabric) publishLocked(ctx context.Context, queue string, n models.Notification) error {
	if f.ch == nil {
		return ErrNotConnected
	}
	if !f.declared[queue] {
		if _, err := f.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring queue %s: %w", queue, err)
		}
		f.declared[queue] = true
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	err = f.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.NotificationID,
		Timestamp:    n.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", queue, err)
	}
	return nil
}

// Ack acknowledges a delivery, removing it from the queue.
func (f *Fabric) Ack(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return ErrNotConnected
	}
	return f.ch.Ack(tag, false)
}

// Nack rejects a delivery, optionally requeueing it as-is.
func (f *Fabric) Nack(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return ErrNotConnected
	}
	return f.ch.Nack(tag, false, requeue)
}

// Requeue returns a notification to the agent's queue with its retry count
// incremented. AMQP redelivery cannot mutate the body, so the increment is
// a republish followed by an ack of the original delivery.
func (f *Fabric) Requeue(ctx context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return ErrNotConnected
	}
	clone := n
	clone.RetryCount++
	clone.DeliveryTag = 0
	if err := f.publishLocked(ctx, f.queueName, clone); err != nil {
		return err
	}
	return f.ch.Ack(n.DeliveryTag, false)
}

// EmitError enqueues an error_message notification on the agent's own queue
// for audit. Emission is rate-limited to break infinite error loops; a
// suppressed emission is not an error.
func (f *Fabric) EmitError(ctx context.Context, source string, detail map[string]any) error {
	if !f.breaker.allow() {
		f.log.Warn("Error notification suppressed by circuit breaker", "source", source)
		return nil
	}
	n, err := models.NewNotification(f.agentName, source, models.NotificationErrorMessage, detail)
	if err != nil {
		return err
	}
	return f.Publish(ctx, f.queueName, n)
}
