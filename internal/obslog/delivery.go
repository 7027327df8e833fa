package obslog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oriys/taskworker/internal/task"
)

// DeliveryLog represents one completed delivery, adapted from the teacher's
// RequestLog (internal/logging/logger.go) — same console/file dual-output
// shape, repurposed from per-invocation FaaS metrics to per-delivery
// dispatcher outcomes.
type DeliveryLog struct {
	Timestamp  time.Time   `json:"timestamp"`
	TaskID     string      `json:"task_id"`
	Status     task.Status `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Redelivered bool       `json:"redelivered,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// DeliveryLogger handles the completion-log side channel that runs
// alongside the structured slog logger: a human-readable console line plus
// an optional newline-delimited JSON file, matching the teacher's Logger.
type DeliveryLogger struct {
	mu      sync.Mutex
	enabled bool
	console bool
	file    *os.File
}

var defaultDeliveryLogger = &DeliveryLogger{enabled: true, console: true}

// Default returns the process-wide delivery logger.
func Default() *DeliveryLogger { return defaultDeliveryLogger }

// SetOutput directs delivery logs to a JSON file in addition to the console.
func (l *DeliveryLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole toggles human-readable console output.
func (l *DeliveryLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log records one completed delivery.
func (l *DeliveryLogger) Log(entry DeliveryLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	entry.Timestamp = time.Now()

	if l.console {
		mark := "✓"
		if entry.Status == task.StatusFailure {
			mark = "✗"
		}
		redeliver := ""
		if entry.Redelivered {
			redeliver = " [redelivered]"
		}
		fmt.Printf("[delivery] %s %s %s %dms%s\n", mark, entry.TaskID, entry.Status, entry.DurationMs, redeliver)
		if entry.Error != "" {
			fmt.Printf("[delivery]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close releases the underlying file handle, if any.
func (l *DeliveryLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
