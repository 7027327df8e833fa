// Package handler provides the uniform invocation surface over sync and
// async user-supplied task handlers described in spec §4.C and §9
// ("sync/async handler duality").
package handler

import (
	"context"
	"fmt"

	"github.com/oriys/taskworker/internal/task"
)

// SyncProgressFunc is the blocking façade handed to a synchronous handler.
type SyncProgressFunc func(progress *float64, payload any)

// AsyncProgressFunc is the suspending façade handed to an asynchronous
// handler; it accepts a context so a handler can honor cancellation at its
// next suspension point (spec §5).
type AsyncProgressFunc func(ctx context.Context, progress *float64, payload any)

// SyncHandler is a handler that runs on the bounded worker-thread pool.
type SyncHandler interface {
	Execute(msg *task.IncomingMessage, progress SyncProgressFunc) (any, error)
}

// AsyncHandler is a handler that runs directly on the dispatcher's
// cooperative scheduler (a per-delivery goroutine in this Go runtime).
type AsyncHandler interface {
	Execute(ctx context.Context, msg *task.IncomingMessage, progress AsyncProgressFunc) (any, error)
}

// Provider produces a handler instance. A Provider implements exactly one of
// SyncHandler or AsyncHandler; the Adapter inspects which at registration.
type Provider func() any

// Adapter is the uniform invocation surface described in spec §4.C: it
// isolates handler faults so a panic or error never escapes to the
// dispatcher, converting both into task.Outcome.
type Adapter struct {
	provider Provider
}

// New builds an Adapter around a handler factory.
func New(provider Provider) *Adapter {
	return &Adapter{provider: provider}
}

// Kind reports whether the provided handler is sync or async, so the
// dispatcher can route the invocation to the correct executor (bounded pool
// vs per-delivery goroutine).
func (a *Adapter) Kind() (Kind, error) {
	h := a.provider()
	switch h.(type) {
	case AsyncHandler:
		return KindAsync, nil
	case SyncHandler:
		return KindSync, nil
	default:
		return KindUnknown, fmt.Errorf("handler: provider produced %T, which implements neither SyncHandler nor AsyncHandler", h)
	}
}

// Kind distinguishes the two handler shapes spec §4.C and §9 describe.
type Kind int

const (
	KindUnknown Kind = iota
	KindSync
	KindAsync
)

// InvokeSync runs a synchronous handler to completion, capturing any panic
// or error into an Outcome. Intended to be called from a bounded worker
// goroutine.
func (a *Adapter) InvokeSync(msg *task.IncomingMessage, progress SyncProgressFunc) (outcome task.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = task.RaisedOutcome("panic", fmt.Sprintf("%v", r))
		}
	}()

	h, ok := a.provider().(SyncHandler)
	if !ok {
		return task.RaisedOutcome("config", "provider did not produce a SyncHandler")
	}

	value, err := h.Execute(msg, progress)
	if err != nil {
		return task.RaisedOutcome(errorKind(err), err.Error())
	}
	return task.Returned(value)
}

// InvokeAsync runs an asynchronous handler, capturing any panic or error
// into an Outcome. Intended to be called from a per-delivery goroutine on
// the dispatcher's cooperative scheduler.
func (a *Adapter) InvokeAsync(ctx context.Context, msg *task.IncomingMessage, progress AsyncProgressFunc) (outcome task.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = task.RaisedOutcome("panic", fmt.Sprintf("%v", r))
		}
	}()

	h, ok := a.provider().(AsyncHandler)
	if !ok {
		return task.RaisedOutcome("config", "provider did not produce an AsyncHandler")
	}

	value, err := h.Execute(ctx, msg, progress)
	if err != nil {
		return task.RaisedOutcome(errorKind(err), err.Error())
	}
	return task.Returned(value)
}

// errorKind derives a short error kind from an error, falling back to a
// generic "handler" kind when the error carries no more specific signal.
func errorKind(err error) string {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "cancelled"
	}
	return "handler"
}
