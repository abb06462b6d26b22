// Package tasks tracks the status and progress of long-running background operations.
package tasks

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is a snapshot of one tracked operation. Errors accumulate per failing
// sub-unit; a task can complete with a non-empty error list (partial success).
type Task struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Status    Status         `json:"status"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Errors    []string       `json:"errors"`
	Phase     string         `json:"phase,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Tracker records task progress for polling. All mutation goes through the
// tracker's lock; reads return snapshots. Once a task leaves the running
// state no further mutation is applied.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*Task)}
}

// Create registers a new running task and returns its id.
func (t *Tracker) Create(taskType string, total int) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[id] = &Task{
		ID:        id,
		Type:      taskType,
		Status:    StatusRunning,
		Total:     total,
		Errors:    []string{},
		CreatedAt: time.Now(),
	}
	return id
}

// Get returns a snapshot of a task.
func (t *Tracker) Get(id string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return snapshot(task), true
}

// List returns snapshots of all tasks, unordered.
func (t *Tracker) List() []Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, snapshot(task))
	}
	return out
}

// Counts returns the number of running, completed and failed tasks.
func (t *Tracker) Counts() (running, completed, failed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, task := range t.tasks {
		switch task.Status {
		case StatusRunning:
			running++
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return running, completed, failed
}

// mutate applies fn while holding the lock, skipping terminal tasks.
func (t *Tracker) mutate(id string, fn func(*Task)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok || task.Status != StatusRunning {
		return
	}
	fn(task)
}

// SetTotal updates the expected sub-unit count, e.g. once a search phase
// has determined how many items a download phase will process.
func (t *Tracker) SetTotal(id string, total int) {
	t.mutate(id, func(task *Task) { task.Total = total })
}

// Progress sets the completed counter. Owning operations only move it
// forward, so observers see monotonic progress.
func (t *Tracker) Progress(id string, completed int) {
	t.mutate(id, func(task *Task) { task.Completed = completed })
}

// AppendError records a failing sub-unit.
func (t *Tracker) AppendError(id, message string) {
	t.mutate(id, func(task *Task) { task.Errors = append(task.Errors, message) })
}

// SetPhase labels the current phase of a multi-phase pipeline.
func (t *Tracker) SetPhase(id, phase string) {
	t.mutate(id, func(task *Task) { task.Phase = phase })
}

// SetResult merges structured result fields into the task.
func (t *Tracker) SetResult(id string, result map[string]any) {
	t.mutate(id, func(task *Task) {
		if task.Result == nil {
			task.Result = make(map[string]any, len(result))
		}
		for k, v := range result {
			task.Result[k] = v
		}
	})
}

// Complete moves the task to its terminal completed state. The error list
// may be non-empty: a batch that partially failed still completes.
func (t *Tracker) Complete(id string, result map[string]any) {
	t.mutate(id, func(task *Task) {
		if result != nil {
			if task.Result == nil {
				task.Result = make(map[string]any, len(result))
			}
			for k, v := range result {
				task.Result[k] = v
			}
		}
		task.Phase = ""
		task.Status = StatusCompleted
	})
}

// Fail moves the task to its terminal failed state.
func (t *Tracker) Fail(id, message string) {
	t.mutate(id, func(task *Task) {
		if message != "" {
			task.Errors = append(task.Errors, message)
		}
		task.Status = StatusFailed
	})
}

func snapshot(task *Task) Task {
	out := *task
	out.Errors = append([]string(nil), task.Errors...)
	if task.Result != nil {
		out.Result = make(map[string]any, len(task.Result))
		for k, v := range task.Result {
			out.Result[k] = v
		}
	}
	return out
}
