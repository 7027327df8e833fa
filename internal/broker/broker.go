// Package broker wraps github.com/rabbitmq/amqp091-go with the connection,
// consumer, and publisher-confirm behavior spec §6 requires: manual ack,
// prefetch = concurrency, persistent JSON publishes, and publisher confirms
// when the channel supports them.
package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oriys/taskworker/internal/obslog"
)

const (
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

// Config describes how to reach the broker and which queues to use.
type Config struct {
	URL      string
	InQueue  string
	OutQueue string
	Prefetch int
}

// Connection owns one AMQP connection and the two channels (consume,
// publish) the runtime needs. It does not reconnect: when the connection
// closes, internal/runner's Run returns an error and the worker exits;
// neither Connection nor the runner dials again.
type Connection struct {
	conn       *amqp.Connection
	consumeCh  *amqp.Channel
	publishCh  *amqp.Channel
	cfg        Config
	confirmsOn bool
}

// Dial connects to the broker, declares both queues (passive on the input
// queue so startup fails fast if it does not already exist, per spec §4.G
// step 2), and opens dedicated consume/publish channels.
func Dial(cfg Config) (*Connection, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open consume channel: %w", err)
	}
	if err := consumeCh.Qos(cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}
	if _, err := consumeCh.QueueDeclarePassive(cfg.InQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: input queue %q does not exist: %w", cfg.InQueue, err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open publish channel: %w", err)
	}
	if _, err := publishCh.QueueDeclare(cfg.OutQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: declare output queue %q: %w", cfg.OutQueue, err)
	}

	confirmsOn := false
	if err := publishCh.Confirm(false); err == nil {
		confirmsOn = true
	} else {
		obslog.Op().Warn("broker: publisher confirms unavailable, publishes will be fire-and-forget", "error", err)
	}

	return &Connection{conn: conn, consumeCh: consumeCh, publishCh: publishCh, cfg: cfg, confirmsOn: confirmsOn}, nil
}

// ConfirmsEnabled reports whether the publish channel negotiated confirms.
func (c *Connection) ConfirmsEnabled() bool { return c.confirmsOn }

// NotifyPublish returns the confirmation channel for the publish channel, or
// nil if confirms are unavailable.
func (c *Connection) NotifyPublish() chan amqp.Confirmation {
	if !c.confirmsOn {
		return nil
	}
	return c.publishCh.NotifyPublish(make(chan amqp.Confirmation, 8))
}

// Consume starts consuming from the input queue with manual ack.
func (c *Connection) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return c.consumeCh.Consume(c.cfg.InQueue, consumerTag, false, false, false, false, nil)
}

// CancelConsume stops the consumer without closing the channel or
// connection, used by OneShot mode after its single delivery reaches
// terminal (spec §9 Open Questions: "explicit consumer cancel after the
// single delivery").
func (c *Connection) CancelConsume(consumerTag string) error {
	return c.consumeCh.Cancel(consumerTag, false)
}

// Ack acknowledges a delivery by tag.
func (c *Connection) Ack(tag uint64) error {
	return c.consumeCh.Ack(tag, false)
}

// Nack negative-acknowledges a delivery by tag, optionally requeueing.
func (c *Connection) Nack(tag uint64, requeue bool) error {
	return c.consumeCh.Nack(tag, false, requeue)
}

// Publish sends a persistent, JSON-content-typed message to the output
// queue (spec §6).
func (c *Connection) Publish(ctx context.Context, body []byte, correlationID string) error {
	return c.publishCh.PublishWithContext(ctx, "", c.cfg.OutQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Body:          body,
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
	})
}

// NotifyClose surfaces unrecoverable connection-level errors to the runner.
func (c *Connection) NotifyClose() chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close tears down both channels, then the connection (spec §4.G step 6).
func (c *Connection) Close() error {
	if c.consumeCh != nil {
		c.consumeCh.Close()
	}
	if c.publishCh != nil {
		c.publishCh.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ReconnectBackoff returns the exponential backoff delay (capped at
// maxReconnectDelay) for the given zero-based attempt, matching the
// doubling-with-cap shape the corpus's own AMQP consumers use.
func ReconnectBackoff(attempt int) time.Duration {
	d := time.Duration(math.Min(
		float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
		float64(maxReconnectDelay),
	))
	return d
}
