package dispatch

import (
	"context"
	"time"

	"github.com/oriys/taskworker/internal/ack"
	"github.com/oriys/taskworker/internal/codec"
	"github.com/oriys/taskworker/internal/metrics"
	"github.com/oriys/taskworker/internal/obslog"
	"github.com/oriys/taskworker/internal/progress"
	"github.com/oriys/taskworker/internal/publish"
	"github.com/oriys/taskworker/internal/task"
)

// AckNacker is the broker-facing surface callbackSink needs to finalize a
// delivery once its terminal callback is confirmed or permanently fails.
type AckNacker interface {
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// callbackSink turns progress.Report values into wire-level TaskCallback
// publishes for one delivery, driving the ack state machine once a terminal
// report is confirmed (or permanently fails) by the broker.
type callbackSink struct {
	ctx       context.Context
	msg       *task.IncomingMessage
	ack       *ack.Delivery
	publisher *publish.Publisher
	conn      AckNacker
	startDate *time.Time
}

func (s *callbackSink) Send(r progress.Report) {
	status := task.StatusRunning
	switch r.Terminal {
	case progress.TerminalSuccess:
		status = task.StatusSuccess
	case progress.TerminalFailure:
		status = task.StatusFailure
	}

	cb := task.TaskCallback{
		TaskID:         s.msg.TaskID,
		Status:         status,
		SubmissionDate: s.msg.SubmissionDate,
		StartDate:      s.startDate,
		Progress:       r.Progress,
		Response:       r.Payload,
	}
	if r.Terminal != progress.NonTerminal {
		end := time.Now()
		cb.EndDate = &end
	}

	body, err := codec.Encode(cb)
	if err != nil {
		obslog.Op().Error("dispatch: failed to encode callback", "task_id", s.msg.TaskID, "error", err)
		return
	}

	if r.Terminal == progress.NonTerminal {
		s.publisher.PublishBestEffort(s.ctx, s.msg.TaskID, body, s.msg.CorrelationID)
		return
	}

	result := s.publisher.PublishAndAwait(s.ctx, s.msg.TaskID, body, s.msg.CorrelationID)

	var action ack.Action
	var transitionErr error
	if result == publish.Confirmed {
		action, transitionErr = s.ack.Confirmed()
	} else {
		action, transitionErr = s.ack.PublishFailedPermanently()
	}
	if transitionErr != nil {
		obslog.Op().Error("dispatch: invalid ack transition on terminal callback", "task_id", s.msg.TaskID, "error", transitionErr)
		return
	}

	switch action {
	case ack.AckBroker:
		metrics.RecordAck("ack")
		if err := s.conn.Ack(s.msg.DeliveryTag); err != nil {
			obslog.Op().Error("dispatch: broker ack failed", "task_id", s.msg.TaskID, "error", err)
		}
	case ack.NackNoRequeue:
		metrics.RecordAck("nack_no_requeue")
		if err := s.conn.Nack(s.msg.DeliveryTag, false); err != nil {
			obslog.Op().Error("dispatch: broker nack failed", "task_id", s.msg.TaskID, "error", err)
		}
	}
}
