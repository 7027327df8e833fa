// Package ack implements the per-delivery acknowledgement state machine
// described in spec §4.D: every received delivery reaches exactly one of
// acked / nacked, and every transition happens exactly once.
package ack

import (
	"fmt"
	"sync"
)

// State is one of the DeliveryState states from spec §3.
type State int

const (
	Received State = iota
	InProgress
	AwaitingPublish
	Acked
	Nacked
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case InProgress:
		return "in-progress"
	case AwaitingPublish:
		return "awaiting-publish"
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	default:
		return "unknown"
	}
}

// Action is the broker-facing action a transition requires the caller to
// perform. NoAction means the transition is purely internal bookkeeping.
type Action int

const (
	NoAction Action = iota
	AckBroker
	NackRequeue
	NackNoRequeue
)

// ErrInvalidTransition is returned when a transition is attempted from a
// state that does not permit it (spec §4.D table), or a delivery that has
// already reached a terminal ack/nack is transitioned again.
type ErrInvalidTransition struct {
	TaskID string
	From   State
	Event  string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("ack: invalid transition for %s: event %q from state %s", e.TaskID, e.Event, e.From)
}

// Delivery tracks the acknowledgement state of a single in-flight message.
// The zero value is not usable; construct with New.
type Delivery struct {
	TaskID      string
	DeliveryTag uint64

	mu    sync.Mutex
	state State
}

// New creates a Delivery in the Received state.
func New(taskID string, deliveryTag uint64) *Delivery {
	return &Delivery{TaskID: taskID, DeliveryTag: deliveryTag, state: Received}
}

// State returns the current state.
func (d *Delivery) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Dispatch transitions received -> in-progress.
func (d *Delivery) Dispatch() error {
	return d.transition(Received, InProgress, "dispatched")
}

// HandlerDone transitions in-progress -> awaiting-publish, regardless of
// whether the handler returned or raised (spec §4.D: both events share the
// same target state; the distinction lives in the callback, not the ack
// state).
func (d *Delivery) HandlerDone() error {
	return d.transition(InProgress, AwaitingPublish, "handler done")
}

// Confirmed transitions awaiting-publish -> acked and returns AckBroker.
func (d *Delivery) Confirmed() (Action, error) {
	if err := d.transition(AwaitingPublish, Acked, "terminal callback confirmed"); err != nil {
		return NoAction, err
	}
	return AckBroker, nil
}

// PublishFailedPermanently transitions awaiting-publish -> nacked and
// returns NackNoRequeue.
func (d *Delivery) PublishFailedPermanently() (Action, error) {
	if err := d.transition(AwaitingPublish, Nacked, "publish failed permanently"); err != nil {
		return NoAction, err
	}
	return NackNoRequeue, nil
}

// DecodeFailed transitions received -> nacked directly (a decode failure
// never reaches in-progress) and returns NackNoRequeue. The caller is
// expected to have already published a failure callback.
func (d *Delivery) DecodeFailed() (Action, error) {
	if err := d.transition(Received, Nacked, "decode failed"); err != nil {
		return NoAction, err
	}
	return NackNoRequeue, nil
}

// Shutdown transitions any non-terminal state to nacked with requeue=true,
// per spec §4.D's "any -> shutdown before terminal -> nacked (requeue=true)"
// row. It is a no-op returning NoAction if the delivery already reached a
// terminal state.
func (d *Delivery) Shutdown() Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Acked || d.state == Nacked {
		return NoAction
	}
	d.state = Nacked
	return NackRequeue
}

func (d *Delivery) transition(from, to State, event string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return &ErrInvalidTransition{TaskID: d.TaskID, From: d.state, Event: event}
	}
	d.state = to
	return nil
}
