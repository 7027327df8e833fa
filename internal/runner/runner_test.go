package runner

import (
	"testing"
	"time"

	"github.com/oriys/taskworker/internal/task"
)

func TestNew_AppliesDefaultGraceDeadline(t *testing.T) {
	r := New(Config{Mode: task.OneShotMode()}, func() any { return nil })
	if r.cfg.GraceDeadline != DefaultGraceDeadline {
		t.Errorf("expected default grace deadline, got %v", r.cfg.GraceDeadline)
	}
}

func TestNew_PreservesExplicitGraceDeadline(t *testing.T) {
	r := New(Config{Mode: task.OneShotMode(), GraceDeadline: 5 * time.Second}, func() any { return nil })
	if r.cfg.GraceDeadline != 5*time.Second {
		t.Errorf("expected explicit grace deadline preserved, got %v", r.cfg.GraceDeadline)
	}
}

func TestRunner_InitialHealthState(t *testing.T) {
	r := New(Config{Mode: task.Infinite(4)}, func() any { return nil })
	if r.BrokerConnected() {
		t.Error("expected not connected before Connect")
	}
	if r.ConsumerActive() {
		t.Error("expected not consuming before Run")
	}
}
