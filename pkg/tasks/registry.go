// Package tasks owns background units of work that outlive the turn that
// spawned them: detached shell commands and delegated sub-agent runs.
//
// The Registry is the single point of truth for task state. Callers hold
// identifiers, never task objects; every query returns a consistent
// snapshot. A task transitions to a terminal status exactly once and stays
// retrievable until explicit cleanup.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind namespaces task identifiers so that different spawners cannot
// collide.
type Kind string

const (
	KindShell    Kind = "shell"
	KindSubagent Kind = "subagent"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Terminal reports whether the status is one a task never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// Task is an immutable snapshot of one background unit of work.
type Task struct {
	ID        string
	Kind      Kind
	Status    Status
	Output    string
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time
}

// KillOutcome reports what Kill found.
type KillOutcome string

const (
	KillSignaled        KillOutcome = "signaled"
	KillAlreadyTerminal KillOutcome = "already_terminal"
	KillNotFound        KillOutcome = "not_found"
)

var ErrNotFound = errors.New("task not found")

// DefaultOutputLimit bounds each task's accumulated output.
const DefaultOutputLimit = 1 << 20 // 1 MiB

// Notifier observes terminal transitions. The registry calls it once per
// task, after the transition is visible to readers.
type Notifier interface {
	TaskFinished(task Task)
}

// Work runs detached on its own goroutine. The context is cancelled by
// Kill, never by the interaction that spawned the task. Report the outcome
// through the handle; returning without finishing marks the task failed.
type Work func(ctx context.Context, h *Handle)

type record struct {
	task     Task
	buf      *outputBuffer
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

// Registry tracks in-flight and finished background tasks. All mutations
// go through one mutex; readers always see a fully formed snapshot.
type Registry struct {
	mu          sync.Mutex
	records     map[string]*record
	outputLimit int
	notifier    Notifier

	// newSuffix is swappable so tests can force an identifier collision.
	newSuffix func() string
}

type Option func(*Registry)

// WithNotifier registers an observer for terminal transitions, typically
// the event bus adapter.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithOutputLimit overrides the per-task output cap.
func WithOutputLimit(limit int) Option {
	return func(r *Registry) {
		if limit > 0 {
			r.outputLimit = limit
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records:     make(map[string]*record),
		outputLimit: DefaultOutputLimit,
		newSuffix: func() string {
			return uuid.NewString()[:8]
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Spawn registers a new task and starts its work on a detached goroutine.
// It returns the namespaced task identifier immediately.
//
// An identifier collision at insertion time is an internal invariant
// violation, not a user-facing error, and panics.
func (r *Registry) Spawn(kind Kind, work Work) string {
	id := fmt.Sprintf("%s:%s", kind, r.newSuffix())

	ctx, cancel := context.WithCancel(context.Background())
	rec := &record{
		task: Task{
			ID:        id,
			Kind:      kind,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		buf:    newOutputBuffer(r.outputLimit),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.records[id]; exists {
		r.mu.Unlock()
		cancel()
		panic(fmt.Sprintf("tasks: duplicate task identifier %q", id))
	}
	r.records[id] = rec
	r.mu.Unlock()

	slog.Debug("Task spawned", "task_id", id, "kind", kind)

	h := &Handle{registry: r, id: id, buf: rec.buf}
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("Task work panicked", "task_id", id, "panic", recovered)
				h.Fail(fmt.Sprintf("task panicked: %v", recovered))
			}
		}()
		work(ctx, h)
		// A work function that returns without reporting an outcome is a
		// spawner bug; record it as a failure rather than leaving the
		// task running forever.
		h.Fail("task work returned without reporting an outcome")
	}()

	return id
}

// Status returns a snapshot of the task, or ErrNotFound. Terminal tasks
// remain queryable until Remove.
func (r *Registry) Status(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.snapshotLocked(rec), nil
}

// List returns snapshots of every known task, running and finished,
// ordered by start time.
func (r *Registry) List() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, r.snapshotLocked(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Kill requests termination of a running task. Killing a task that has
// already finished is not an error; it reports KillAlreadyTerminal.
func (r *Registry) Kill(id string) KillOutcome {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return KillNotFound
	}
	if rec.task.Status.Terminal() {
		r.mu.Unlock()
		return KillAlreadyTerminal
	}
	r.terminateLocked(rec, StatusKilled, -1)
	task := r.snapshotLocked(rec)
	r.mu.Unlock()

	rec.cancel()
	r.notify(task)
	slog.Debug("Task killed", "task_id", id)
	return KillSignaled
}

// Wait blocks until the task reaches a terminal status or the timeout
// elapses, then returns the best-known snapshot. A timeout is not an
// error; the returned task is simply still running.
func (r *Registry) Wait(ctx context.Context, id string, timeout time.Duration) (Task, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-rec.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	return r.Status(id)
}

// Remove deletes a terminal task from the registry. Running tasks are
// never removed implicitly; kill them first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !rec.task.Status.Terminal() {
		return fmt.Errorf("task %s is still running", id)
	}
	delete(r.records, id)
	return nil
}

// finish is the single terminal-transition point shared by Handle and
// Kill. A finish that loses the race against Kill is dropped silently;
// the kill outcome wins.
func (r *Registry) finish(id string, status Status, exitCode int) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if rec.task.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.terminateLocked(rec, status, exitCode)
	task := r.snapshotLocked(rec)
	r.mu.Unlock()

	r.notify(task)
	slog.Debug("Task finished", "task_id", id, "status", status, "exit_code", exitCode)
}

func (r *Registry) terminateLocked(rec *record, status Status, exitCode int) {
	if rec.finished {
		// Two terminal transitions through the mutation point is a
		// registry bug, not a caller race; those are filtered above.
		panic(fmt.Sprintf("tasks: double terminal transition for %q", rec.task.ID))
	}
	rec.finished = true
	rec.task.Status = status
	rec.task.ExitCode = exitCode
	rec.task.EndedAt = time.Now()
	close(rec.done)
}

func (r *Registry) snapshotLocked(rec *record) Task {
	task := rec.task
	task.Output = rec.buf.String()
	return task
}

func (r *Registry) notify(task Task) {
	if r.notifier != nil {
		r.notifier.TaskFinished(task)
	}
}

// Handle is handed to a task's work function to report progress and the
// final outcome. All methods are safe for concurrent use.
type Handle struct {
	registry *Registry
	id       string
	buf      *outputBuffer

	once sync.Once
}

// ID returns the task's namespaced identifier.
func (h *Handle) ID() string { return h.id }

// Append adds output to the task's bounded buffer.
func (h *Handle) Append(s string) {
	h.buf.Append(s)
}

// AppendLine adds one line of output, terminating it with a newline.
func (h *Handle) AppendLine(line string) {
	h.buf.Append(line + "\n")
}

// Complete marks the task completed with the given exit code. A non-zero
// code still counts as completed; the process ran to an exit.
func (h *Handle) Complete(exitCode int) {
	h.once.Do(func() {
		h.registry.finish(h.id, StatusCompleted, exitCode)
	})
}

// Fail marks the task failed, recording the reason as output.
func (h *Handle) Fail(reason string) {
	h.once.Do(func() {
		if reason != "" {
			h.buf.Append(reason + "\n")
		}
		h.registry.finish(h.id, StatusFailed, -1)
	})
}
