// Package jobtracker maintains an in-memory snapshot of in-flight
// deliveries for diagnostics, independent of the Prometheus counters in
// internal/metrics. Adapted from the teacher's internal/jobtracker/tracker.go
// (there: per-job percent/phase for long-running invocations) and wired into
// internal/dispatch so GET /debug/inflight on the health server can show what
// is currently between dispatch and terminal ack.
package jobtracker

import (
	"sync"
	"time"
)

// Task represents the last known progress of one in-flight delivery.
type Task struct {
	TaskID      string    `json:"task_id"`
	Progress    float64   `json:"progress"` // 0.0-1.0
	Redelivered bool      `json:"redelivered"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Tracker maintains in-memory progress for in-flight deliveries. Entries are
// removed explicitly when a delivery reaches terminal, and swept by a
// background loop if a delivery's heartbeat goes stale past ttl (a handler
// that hangs forever without reporting progress or returning).
type Tracker struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	ttl     time.Duration
	maxSize int
}

// New creates a Tracker. ttl bounds how long an entry survives without a
// fresh Update/Heartbeat before the cleanup loop evicts it.
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	t := &Tracker{
		tasks:   make(map[string]*Task),
		ttl:     ttl,
		maxSize: 10000,
	}
	go t.cleanupLoop()
	return t
}

// Start records a newly dispatched delivery.
func (t *Tracker) Start(taskID string, redelivered bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tasks[taskID]; !ok && t.maxSize > 0 && len(t.tasks) >= t.maxSize {
		return
	}
	t.tasks[taskID] = &Task{
		TaskID:      taskID,
		Redelivered: redelivered,
		StartedAt:   now,
		UpdatedAt:   now,
		HeartbeatAt: now,
	}
}

// Update records a progress report for a tracked task. Out-of-range values
// are clamped the same way internal/progress clamps them.
func (t *Tracker) Update(taskID string, progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if task, ok := t.tasks[taskID]; ok {
		task.Progress = progress
		task.UpdatedAt = now
		task.HeartbeatAt = now
	}
}

// Remove deletes a task's entry, called once its terminal callback is
// confirmed or permanently abandoned.
func (t *Tracker) Remove(taskID string) {
	t.mu.Lock()
	delete(t.tasks, taskID)
	t.mu.Unlock()
}

// Get returns a copy of one task's state, or nil if untracked.
func (t *Tracker) Get(taskID string) *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil
	}
	cp := *task
	return &cp
}

// ListActive returns a snapshot of every currently tracked task.
func (t *Tracker) ListActive() []*Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		cp := *task
		out = append(out, &cp)
	}
	return out
}

func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		now := time.Now()
		for id, task := range t.tasks {
			if now.Sub(task.HeartbeatAt) > t.ttl {
				delete(t.tasks, id)
			}
		}
		t.mu.Unlock()
	}
}
