// Package progress implements the bounded, ordered, terminal-aware report
// channel described in spec §4.B. A Reporter is scoped to a single delivery;
// the dispatcher creates one per delivery and hands it to the Handler
// Adapter. Submission (Report) never blocks on the downstream Sink — a
// dedicated per-delivery goroutine drains the buffer and calls Sink.Send,
// so a stalled publisher never stalls the handler.
package progress

import (
	"sync"

	"github.com/oriys/taskworker/internal/obslog"
	"github.com/oriys/taskworker/internal/task"
)

// Terminal indicates whether a Report call carries no terminal status, a
// success terminal, or a failure terminal.
type Terminal int

const (
	NonTerminal Terminal = iota
	TerminalSuccess
	TerminalFailure
)

// Report is one submission to a Reporter: a progress fraction, an optional
// payload, and a terminal marker.
type Report struct {
	Progress *float64
	Payload  any
	Terminal Terminal
}

// defaultBufferSize bounds the per-delivery non-terminal backlog (spec §4.B:
// "bounded buffer"; oldest non-terminal reports are dropped to make room).
const defaultBufferSize = 16

// Sink is what a Reporter forwards accepted reports to, in submission
// order — the Publisher's per-delivery ordered queue in production, a
// recording stub in tests.
type Sink interface {
	Send(r Report)
}

// Reporter is the per-delivery progress submission surface (spec §4.B).
type Reporter struct {
	taskID string
	sink   Sink

	mu       sync.Mutex
	buf      []Report
	terminal bool
	wake     chan struct{}
	done     chan struct{}
}

// New creates a Reporter for taskID forwarding accepted reports to sink, and
// starts its draining goroutine. Callers must eventually submit a terminal
// report (directly or via the dispatcher) so the goroutine exits.
func New(taskID string, sink Sink) *Reporter {
	r := &Reporter{
		taskID: taskID,
		sink:   sink,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Report submits one progress update or terminal status. It never blocks
// beyond acquiring the Reporter's internal mutex (spec §4.B).
func (r *Reporter) Report(progress *float64, payload any, terminal Terminal) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		// A terminal callback was already accepted for this delivery; every
		// subsequent call, terminal or not, is silently dropped (spec §4.B).
		return
	}

	clamped := clamp(progress, r.taskID)
	rep := Report{Progress: clamped, Payload: payload, Terminal: terminal}

	if terminal != NonTerminal {
		r.terminal = true
	}

	r.buf = append(r.buf, rep)
	if !r.terminal && len(r.buf) > defaultBufferSize {
		// Drop the oldest non-terminal report to make room; terminal reports
		// are always the last element appended and are never dropped.
		dropped := len(r.buf) - defaultBufferSize
		r.buf = r.buf[dropped:]
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// drain forwards buffered reports to the Sink in submission order, exiting
// once a terminal report has been sent.
func (r *Reporter) drain() {
	defer close(r.done)
	for {
		r.mu.Lock()
		pending := r.buf
		r.buf = nil
		r.mu.Unlock()

		for _, rep := range pending {
			r.sink.Send(rep)
			if rep.Terminal != NonTerminal {
				return
			}
		}

		<-r.wake
	}
}

// Wait blocks until the terminal report has been forwarded to the sink.
// Used by the dispatcher to know when it is safe to hand the delivery off
// to the ack state machine.
func (r *Reporter) Wait() {
	<-r.done
}

func clamp(p *float64, taskID string) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	if v < 0.0 || v > 1.0 {
		obslog.Op().Warn("progress value out of range, clamping", "task_id", taskID, "value", v)
		if v < 0.0 {
			v = 0.0
		} else {
			v = 1.0
		}
	}
	return &v
}

// TerminalFromOutcome maps a task.Outcome into the Terminal marker used when
// the dispatcher submits the final callback through the same Reporter path
// as progress updates, keeping submission order consistent (spec §4.B, §4.E
// step 4).
func TerminalFromOutcome(o task.Outcome) Terminal {
	if o.Raised {
		return TerminalFailure
	}
	return TerminalSuccess
}
