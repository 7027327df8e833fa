// Package publish owns the outgoing callback channel: it serializes writes
// to the broker, awaits publisher confirms for terminal callbacks, and
// retries transient failures with bounded exponential backoff (spec §4.F).
package publish

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oriys/taskworker/internal/metrics"
	"github.com/oriys/taskworker/internal/obslog"
)

// Conn is the subset of broker.Connection the Publisher depends on, kept
// narrow so tests can substitute a fake.
type Conn interface {
	Publish(ctx context.Context, body []byte, correlationID string) error
	NotifyPublish() chan amqp.Confirmation
	ConfirmsEnabled() bool
}

// Interrupter lets an external signal cut a backoff sleep short. The Redis
// notifier (internal/notify) implements this; when absent, NoopInterrupter
// is used and the Publisher simply waits out its own timer.
type Interrupter interface {
	Wait(ctx context.Context, max time.Duration) bool
}

// NoopInterrupter never fires early.
type NoopInterrupter struct{}

// Wait blocks for the full duration and reports no early wake.
func (NoopInterrupter) Wait(ctx context.Context, max time.Duration) bool {
	t := time.NewTimer(max)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return false
}

const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second
	maxAttempts = 8
)

// calcBackoff doubles the base delay per attempt up to maxBackoff and adds
// up to 20% jitter, following the teacher's asyncqueue worker's backoff
// shape.
func calcBackoff(attempt int) time.Duration {
	d := math.Min(float64(baseBackoff)*math.Pow(2, float64(attempt)), float64(maxBackoff))
	jitter := d * 0.2 * rand.Float64()
	return time.Duration(d + jitter)
}

// Result reports how a single publish attempt resolved.
type Result int

const (
	// Confirmed means the broker acked the message (or confirms are
	// disabled and the write itself succeeded).
	Confirmed Result = iota
	// FailedPermanently means every retry was exhausted, or ctx was
	// cancelled while awaiting a confirm.
	FailedPermanently
)

// Publisher serializes outgoing writes on a single channel and waits for
// publisher confirms, one message at a time — mirroring the
// single-outstanding-publish pattern used to await broker confirmations in
// the corpus's own AMQP publisher. mu enforces that ordering: every delivery
// gets its own progress.Reporter drain goroutine, and under Infinite mode
// with concurrency>1 those goroutines call PublishAndAwait on this same
// shared Publisher concurrently, so a write and its matching confirm read
// must happen as one atomic step or confirms can be misattributed across
// deliveries.
type Publisher struct {
	conn        Conn
	confirms    chan amqp.Confirmation
	interrupter Interrupter
	mu          sync.Mutex
}

// New builds a Publisher bound to a connection. If the connection has
// confirms enabled, its confirmation channel is captured once and reused
// for every publish (RabbitMQ delivers confirms in publish order on a
// single channel, so a single shared receiver is safe as long as
// PublishAndAwait is never called concurrently with itself).
func New(conn Conn, interrupter Interrupter) *Publisher {
	if interrupter == nil {
		interrupter = NoopInterrupter{}
	}
	p := &Publisher{conn: conn, interrupter: interrupter}
	if conn.ConfirmsEnabled() {
		p.confirms = conn.NotifyPublish()
	}
	return p
}

// PublishAndAwait publishes body and, when confirms are enabled, blocks
// until the broker acks or nacks it, retrying transient failures with
// bounded backoff. Used for terminal callbacks, which must not be silently
// lost (spec §4.F, invariant on exactly-one-terminal-callback delivery).
func (p *Publisher) PublishAndAwait(ctx context.Context, taskID string, body []byte, correlationID string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := p.conn.Publish(ctx, body, correlationID); err != nil {
			obslog.Op().Warn("publish: write failed, retrying", "task_id", taskID, "attempt", attempt, "error", err)
			metrics.RecordPublishRetry()
			p.wait(ctx, attempt)
			continue
		}

		if p.confirms == nil {
			metrics.RecordPublish("confirmed", time.Since(start).Seconds())
			return Confirmed
		}

		select {
		case conf, ok := <-p.confirms:
			if !ok {
				obslog.Op().Warn("publish: confirmation channel closed, retrying", "task_id", taskID, "attempt", attempt)
				metrics.RecordPublishRetry()
				p.wait(ctx, attempt)
				continue
			}
			if conf.Ack {
				metrics.RecordPublish("confirmed", time.Since(start).Seconds())
				return Confirmed
			}
			obslog.Op().Warn("publish: broker nacked message, retrying", "task_id", taskID, "attempt", attempt)
			metrics.RecordPublishRetry()
			p.wait(ctx, attempt)
		case <-ctx.Done():
			metrics.RecordPublish("failed", time.Since(start).Seconds())
			return FailedPermanently
		}
	}

	obslog.Op().Error("publish: exhausted retries, giving up", "task_id", taskID, "attempts", maxAttempts)
	metrics.RecordPublish("failed", time.Since(start).Seconds())
	return FailedPermanently
}

// PublishBestEffort publishes body once, without retrying and without acting
// on the broker's ack/nack; used for non-terminal progress reports, which are
// loss-tolerant by design (spec §4.B). When confirms are enabled it still
// reads this publish's confirmation off the shared channel, so the next
// PublishAndAwait receives its own confirmation rather than this one.
func (p *Publisher) PublishBestEffort(ctx context.Context, taskID string, body []byte, correlationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.Publish(ctx, body, correlationID); err != nil {
		obslog.Op().Debug("publish: best-effort progress write dropped", "task_id", taskID, "error", err)
		return
	}
	if p.confirms != nil {
		select {
		case <-p.confirms:
		case <-ctx.Done():
		}
	}
}

func (p *Publisher) wait(ctx context.Context, attempt int) {
	delay := calcBackoff(attempt)
	if p.interrupter.Wait(ctx, delay) {
		obslog.Op().Debug("publish: backoff interrupted early", "attempt", attempt)
	}
}

// ErrNotConfirmed is returned by callers that need an error value rather
// than a Result constant (e.g. when adapting into the ack state machine).
var ErrNotConfirmed = fmt.Errorf("publish: message was not confirmed by the broker")
