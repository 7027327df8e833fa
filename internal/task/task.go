// Package task defines the wire-level data model shared by every component of
// the worker runtime: the decoded incoming delivery, the outgoing callback
// record, and the handler's tagged outcome.
package task

import (
	"time"
)

// Status is the enumerated lifecycle state carried on a TaskCallback.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// IsTerminal reports whether status is success or failure.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// IncomingMessage is the decoded form of a broker delivery, handed to the
// task handler. DeliveryTag and Redelivered are routing metadata owned by
// the ack state machine; handlers never act on them directly.
type IncomingMessage struct {
	TaskID          string
	Body            map[string]any
	SubmissionDate  *time.Time
	CorrelationID   string
	ReplyTo         string
	DeliveryTag     uint64
	Redelivered     bool
}

// TaskCallback is the record published to the output queue. Exactly one
// callback per delivery has Status in {success, failure}; that callback is
// always the last one emitted for the delivery (spec §3, invariant 1).
type TaskCallback struct {
	TaskID         string     `json:"task_id"`
	Status         Status     `json:"status"`
	SubmissionDate *time.Time `json:"submission_date,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Progress       *float64   `json:"progress,omitempty"`
	Response       any        `json:"response"`
}

// ErrorResponse is the shape of TaskCallback.Response when a handler raises.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Outcome is the tagged result of a handler invocation: exactly one of
// Value (Returned) or Kind/Text (Raised) is meaningful, distinguished by
// Raised.
type Outcome struct {
	Raised bool
	Value  any
	Kind   string
	Text   string
}

// Returned builds a successful Outcome.
func Returned(value any) Outcome {
	return Outcome{Value: value}
}

// RaisedOutcome builds a failed Outcome from an error kind and message,
// matching spec §4.C: "a short error kind and a human string".
func RaisedOutcome(kind, message string) Outcome {
	return Outcome{Raised: true, Kind: kind, Text: message}
}

// ErrorResponse converts a Raised outcome into the wire-level error shape.
func (o Outcome) ErrorResponse() ErrorResponse {
	return ErrorResponse{Error: o.Kind, Message: o.Text}
}

// Mode selects the dispatcher's concurrency and termination rule (spec §4.I).
type Mode struct {
	// Concurrency is the maximum number of inflight deliveries. Ignored
	// (forced to 1) when OneShot is true.
	Concurrency int
	// OneShot, when true, consumes exactly one delivery to terminal ack and
	// returns instead of looping indefinitely.
	OneShot bool
}

// Infinite returns a long-running Mode with the given concurrency.
func Infinite(concurrency int) Mode {
	return Mode{Concurrency: concurrency}
}

// OneShotMode returns the single-delivery run mode.
func OneShotMode() Mode {
	return Mode{Concurrency: 1, OneShot: true}
}

// EffectiveConcurrency returns the concurrency the dispatcher should actually
// use, clamping to 1 for OneShot regardless of the configured value.
func (m Mode) EffectiveConcurrency() int {
	if m.OneShot {
		return 1
	}
	if m.Concurrency < 1 {
		return 1
	}
	return m.Concurrency
}
