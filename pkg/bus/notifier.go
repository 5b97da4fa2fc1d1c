package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/weftwork/weft/pkg/tasks"
)

// RecordTypeTaskFinished tags records written by the task notifier.
const RecordTypeTaskFinished = "task_finished"

// TaskPayload is the JSON payload of a task_finished record: the terminal
// status plus a bounded output summary, enough for a cross-session
// observer to decide whether to fetch more.
type TaskPayload struct {
	TaskID   string     `json:"task_id"`
	Kind     tasks.Kind `json:"kind"`
	Status   string     `json:"status"`
	ExitCode int        `json:"exit_code"`
	Summary  string     `json:"summary,omitempty"`
}

const summaryLimit = 1024

// TaskNotifier bridges the task registry to the bus: every terminal
// transition becomes one durable record under the task's own topic.
type TaskNotifier struct {
	bus       *Bus
	sessionID string
}

var _ tasks.Notifier = (*TaskNotifier)(nil)

// NewTaskNotifier attributes published records to sessionID, which may be
// empty for unregistered runs.
func NewTaskNotifier(b *Bus, sessionID string) *TaskNotifier {
	return &TaskNotifier{bus: b, sessionID: sessionID}
}

func (n *TaskNotifier) TaskFinished(task tasks.Task) {
	summary := task.Output
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}

	payload, err := json.Marshal(TaskPayload{
		TaskID:   task.ID,
		Kind:     task.Kind,
		Status:   string(task.Status),
		ExitCode: task.ExitCode,
		Summary:  summary,
	})
	if err != nil {
		slog.Error("Failed to encode task payload", "task_id", task.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := n.bus.Publish(ctx, TaskTopic(task.ID), RecordTypeTaskFinished, string(payload), n.sessionID); err != nil {
		// A lost notification degrades cross-session visibility but must
		// not fail the task itself.
		slog.Warn("Failed to publish task completion", "task_id", task.ID, "error", err)
	}
}
