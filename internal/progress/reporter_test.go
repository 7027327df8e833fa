package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/oriys/taskworker/internal/task"
)

type recordingSink struct {
	mu   sync.Mutex
	recv []Report
}

func (s *recordingSink) Send(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = append(s.recv, r)
}

func (s *recordingSink) all() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.recv))
	copy(out, s.recv)
	return out
}

func f(v float64) *float64 { return &v }

func TestReporter_OrderPreservedBeforeTerminal(t *testing.T) {
	sink := &recordingSink{}
	r := New("t1", sink)

	r.Report(f(0.3), nil, NonTerminal)
	r.Report(f(0.6), nil, NonTerminal)
	r.Report(nil, "ok", TerminalSuccess)
	r.Wait()

	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d: %+v", len(got), got)
	}
	if *got[0].Progress != 0.3 || *got[1].Progress != 0.6 {
		t.Errorf("order not preserved: %+v", got)
	}
	if got[2].Terminal != TerminalSuccess {
		t.Errorf("expected last report to be terminal success, got %+v", got[2])
	}
}

func TestReporter_DropsCallsAfterTerminal(t *testing.T) {
	sink := &recordingSink{}
	r := New("t1", sink)
	r.Report(nil, "ok", TerminalSuccess)
	r.Wait()
	r.Report(f(0.5), nil, NonTerminal)

	time.Sleep(10 * time.Millisecond)
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 report (terminal only), got %d: %+v", len(got), got)
	}
}

func TestReporter_ClampsOutOfRangeProgress(t *testing.T) {
	sink := &recordingSink{}
	r := New("t1", sink)
	r.Report(f(1.5), nil, NonTerminal)
	r.Report(nil, nil, TerminalSuccess)
	r.Wait()

	got := sink.all()
	if *got[0].Progress != 1.0 {
		t.Errorf("expected clamp to 1.0, got %v", *got[0].Progress)
	}
}

// blockingSink stalls its first Send until unblock is closed, simulating a
// stalled publisher so reports pile up in the Reporter's bounded buffer.
type blockingSink struct {
	mu       sync.Mutex
	unblock  chan struct{}
	once     bool
	received []Report
}

func (s *blockingSink) Send(r Report) {
	s.mu.Lock()
	first := !s.once
	s.once = true
	s.mu.Unlock()
	if first {
		<-s.unblock
	}
	s.mu.Lock()
	s.received = append(s.received, r)
	s.mu.Unlock()
}

func TestReporter_DropsOldestWhenBufferFull(t *testing.T) {
	sink := &blockingSink{unblock: make(chan struct{})}
	r := New("t1", sink)

	// The first report is picked up by drain and blocks there, so every
	// subsequent non-terminal report accumulates in the bounded buffer.
	r.Report(f(0.01), nil, NonTerminal)
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < defaultBufferSize+5; i++ {
		v := float64(i) / 100
		r.Report(&v, nil, NonTerminal)
	}
	close(sink.unblock)
	r.Report(nil, nil, TerminalSuccess)
	r.Wait()

	if len(sink.received) > defaultBufferSize+2 {
		t.Errorf("expected bounded delivery count, got %d", len(sink.received))
	}
}

func TestTerminalFromOutcome(t *testing.T) {
	if TerminalFromOutcome(task.Returned("x")) != TerminalSuccess {
		t.Error("expected success for Returned outcome")
	}
	if TerminalFromOutcome(task.RaisedOutcome("boom", "bad")) != TerminalFailure {
		t.Error("expected failure for Raised outcome")
	}
}
