// Package dispatch implements the bounded-concurrency scheduler described in
// spec §4.E: it pulls deliveries off the broker's consumer channel, decodes
// them, invokes the registered handler (sync on a bounded pool, async on a
// per-delivery goroutine), and drives the resulting callbacks through the
// ack state machine.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oriys/taskworker/internal/ack"
	"github.com/oriys/taskworker/internal/codec"
	"github.com/oriys/taskworker/internal/handler"
	"github.com/oriys/taskworker/internal/jobtracker"
	"github.com/oriys/taskworker/internal/metrics"
	"github.com/oriys/taskworker/internal/obslog"
	"github.com/oriys/taskworker/internal/obstrace"
	"github.com/oriys/taskworker/internal/progress"
	"github.com/oriys/taskworker/internal/publish"
	"github.com/oriys/taskworker/internal/task"
)

// trackerTTL bounds how long a delivery can go without a progress update or
// heartbeat before jobtracker evicts it as abandoned.
const trackerTTL = 30 * time.Minute

// Consumer is the subset of broker.Connection the dispatcher depends on.
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	CancelConsume(consumerTag string) error
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// ConsumerTag identifies this worker's consumer to the broker.
const ConsumerTag = "taskworker"

// Dispatcher owns the consume loop and the bounded worker pool for
// synchronous handlers.
type Dispatcher struct {
	conn      Consumer
	publisher *publish.Publisher
	adapter   *handler.Adapter
	kind      handler.Kind
	mode      task.Mode

	sem      chan struct{}
	wg       sync.WaitGroup
	draining atomic.Bool
	inflight atomic.Int64
	tracker  *jobtracker.Tracker
}

// New builds a Dispatcher. It resolves the handler kind once up front so the
// hot path never has to re-inspect the provider.
func New(conn Consumer, publisher *publish.Publisher, adapter *handler.Adapter, mode task.Mode) (*Dispatcher, error) {
	kind, err := adapter.Kind()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		conn:      conn,
		publisher: publisher,
		adapter:   adapter,
		kind:      kind,
		mode:      mode,
		sem:       make(chan struct{}, mode.EffectiveConcurrency()),
		tracker:   jobtracker.New(trackerTTL),
	}, nil
}

// Inflight reports the number of deliveries currently between dispatch and
// terminal ack, reported in Drain's grace-deadline warning.
func (d *Dispatcher) Inflight() int64 { return d.inflight.Load() }

// InflightTasks returns a diagnostic snapshot of every delivery currently
// between dispatch and terminal ack, exposed via the health server's
// /debug/inflight endpoint.
func (d *Dispatcher) InflightTasks() []*jobtracker.Task { return d.tracker.ListActive() }

// Run consumes deliveries until ctx is cancelled, the broker channel closes,
// or (in OneShot mode) a single delivery reaches terminal. It returns nil on
// a clean stop and the context error otherwise.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.conn.Consume(ConsumerTag)
	if err != nil {
		return err
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			if d.mode.OneShot {
				d.handleDelivery(ctx, delivery)
				d.conn.CancelConsume(ConsumerTag)
				return nil
			}
			d.dispatchOne(ctx, delivery)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchOne hands a delivery to a goroutine. Sync handlers additionally
// acquire a semaphore slot inside the goroutine so the pool's bound applies
// to handler execution time, not delivery decode/callback time.
func (d *Dispatcher) dispatchOne(ctx context.Context, delivery amqp.Delivery) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleDelivery(ctx, delivery)
	}()
}

// Drain stops accepting new deliveries and waits for in-flight work to reach
// terminal ack, up to the grace deadline (spec §4.G step 5, invariant 5: no
// new received->in-progress transitions once draining).
func (d *Dispatcher) Drain(ctx context.Context, grace time.Duration) {
	d.draining.Store(true)
	d.conn.CancelConsume(ConsumerTag)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		obslog.Op().Warn("dispatch: grace deadline exceeded, in-flight deliveries may be abandoned", "inflight", d.Inflight())
	case <-ctx.Done():
	}
}

func (d *Dispatcher) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	hdr := codec.Headers{
		CorrelationID: delivery.CorrelationId,
		ReplyTo:       delivery.ReplyTo,
	}
	if v, ok := delivery.Headers["task_id"]; ok {
		if s, ok := v.(string); ok {
			hdr.TaskID = s
		}
	}

	msg, err := codec.Decode(delivery.Body, hdr, delivery.DeliveryTag, delivery.Redelivered)
	if err != nil {
		d.handleDecodeFailure(ctx, hdr, delivery, err)
		return
	}

	if d.draining.Load() {
		obslog.Op().Warn("dispatch: draining, requeueing undelivered task", "task_id", msg.TaskID)
		metrics.RecordAck("nack_requeue")
		d.conn.Nack(delivery.DeliveryTag, true)
		return
	}

	d.inflight.Add(1)
	metrics.SetInflight(d.inflight.Load())
	d.tracker.Start(msg.TaskID, msg.Redelivered)
	defer func() {
		d.inflight.Add(-1)
		metrics.SetInflight(d.inflight.Load())
		d.tracker.Remove(msg.TaskID)
	}()

	dispatchStart := time.Now()

	ctx, span := obstrace.StartDeliverySpan(ctx, "dispatch.delivery",
		obstrace.AttrTaskID.String(msg.TaskID),
		obstrace.AttrCorrelationID.String(msg.CorrelationID),
		obstrace.AttrRedelivered.Bool(msg.Redelivered),
	)
	defer span.End()

	ackDelivery := ack.New(msg.TaskID, delivery.DeliveryTag)
	if err := ackDelivery.Dispatch(); err != nil {
		obslog.Op().Error("dispatch: invalid ack transition", "error", err)
		return
	}

	startDate := time.Now()
	sink := &callbackSink{
		ctx:       ctx,
		msg:       msg,
		ack:       ackDelivery,
		publisher: d.publisher,
		conn:      d.conn,
		startDate: &startDate,
	}
	reporter := progress.New(msg.TaskID, sink)

	// Announce the running state before invoking the handler, fire-and-forget
	// (spec §4.B: non-terminal reports are loss-tolerant).
	reporter.Report(nil, nil, progress.NonTerminal)

	progressFunc := func(p *float64, payload any) {
		if p != nil {
			d.tracker.Update(msg.TaskID, *p)
		}
		reporter.Report(p, payload, progress.NonTerminal)
	}

	var outcome task.Outcome
	switch d.kind {
	case handler.KindSync:
		d.sem <- struct{}{}
		outcome = d.adapter.InvokeSync(msg, progressFunc)
		<-d.sem
	case handler.KindAsync:
		outcome = d.adapter.InvokeAsync(ctx, msg, func(c context.Context, p *float64, payload any) {
			if p != nil {
				d.tracker.Update(msg.TaskID, *p)
			}
			reporter.Report(p, payload, progress.NonTerminal)
		})
	}

	if err := ackDelivery.HandlerDone(); err != nil {
		obslog.Op().Error("dispatch: invalid ack transition after handler", "error", err)
	}

	var response any
	statusLabel := "success"
	if outcome.Raised {
		response = outcome.ErrorResponse()
		statusLabel = "failure"
		span.SetAttributes(obstrace.AttrStatus.String("failure"))
		obstrace.SetSpanError(span, fmtError(outcome.Kind, outcome.Text))
	} else {
		response = outcome.Value
		span.SetAttributes(obstrace.AttrStatus.String("success"))
		obstrace.SetSpanOK(span)
	}
	reporter.Report(nil, response, progress.TerminalFromOutcome(outcome))
	reporter.Wait()

	metrics.RecordDelivery(statusLabel, time.Since(dispatchStart).Seconds())
}

func fmtError(kind, text string) error {
	return fmt.Errorf("%s: %s", kind, text)
}

// handleDecodeFailure publishes a failure callback with error kind "decode"
// for a delivery that never reached a usable IncomingMessage, then drives it
// through the ack state machine's decode-failed transition before nacking
// (spec §4.E step 1, §8 scenario 6). The nack is unconditional: it doesn't
// depend on whether the callback publish itself succeeded.
func (d *Dispatcher) handleDecodeFailure(ctx context.Context, hdr codec.Headers, delivery amqp.Delivery, decodeErr error) {
	obslog.Op().Error("dispatch: decode failed", "error", decodeErr, "delivery_tag", delivery.DeliveryTag)
	metrics.RecordDelivery("decode_failure", 0)

	taskID := hdr.TaskID
	correlationID := codec.FallbackCorrelationID(hdr.CorrelationID)
	end := time.Now()

	cb := task.TaskCallback{
		TaskID:   taskID,
		Status:   task.StatusFailure,
		EndDate:  &end,
		Response: task.ErrorResponse{Error: codec.ErrorKindDecode, Message: decodeErr.Error()},
	}

	if body, err := codec.Encode(cb); err != nil {
		obslog.Op().Error("dispatch: failed to encode decode-failure callback", "task_id", taskID, "error", err)
	} else {
		d.publisher.PublishAndAwait(ctx, taskID, body, correlationID)
	}

	ackDelivery := ack.New(taskID, delivery.DeliveryTag)
	action, err := ackDelivery.DecodeFailed()
	if err != nil {
		obslog.Op().Error("dispatch: invalid ack transition on decode failure", "task_id", taskID, "error", err)
		return
	}
	if action == ack.NackNoRequeue {
		metrics.RecordAck("nack_no_requeue")
		if err := d.conn.Nack(delivery.DeliveryTag, false); err != nil {
			obslog.Op().Error("dispatch: broker nack failed", "task_id", taskID, "error", err)
		}
	}
}
