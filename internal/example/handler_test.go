package example

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/taskworker/internal/task"
)

func TestSyncEchoTask_ReportsProgressAndSucceeds(t *testing.T) {
	var reports []float64
	msg := &task.IncomingMessage{TaskID: "t1", Body: map[string]any{"sleep_ms": 20.0}}

	value, err := SyncEchoTask{}.Execute(msg, func(p *float64, payload any) {
		if p != nil {
			reports = append(reports, *p)
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.(map[string]any)["hello"] != "world" {
		t.Errorf("unexpected value: %v", value)
	}
	if len(reports) != 2 || reports[0] != 0.3 || reports[1] != 0.6 {
		t.Errorf("unexpected progress sequence: %v", reports)
	}
}

func TestSyncEchoTask_FailsWhenBodyMarksFailed(t *testing.T) {
	msg := &task.IncomingMessage{TaskID: "t1", Body: map[string]any{"fail": true}}
	_, err := SyncEchoTask{}.Execute(msg, func(*float64, any) {})
	if err == nil || err.Error() != "Argh" {
		t.Fatalf("expected Argh error, got %v", err)
	}
}

func TestAsyncEchoTask_RespectsCancellation(t *testing.T) {
	msg := &task.IncomingMessage{TaskID: "t1", Body: map[string]any{}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := AsyncEchoTask{}.Execute(ctx, msg, func(context.Context, *float64, any) {})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
