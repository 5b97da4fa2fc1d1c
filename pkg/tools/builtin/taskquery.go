package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/weftwork/weft/pkg/tasks"
	"github.com/weftwork/weft/pkg/tools"
)

// DefaultWaitTimeout bounds task_output waits that do not ask for a
// longer one.
const DefaultWaitTimeout = 30 * time.Second

// TaskQueryToolSet exposes the task registry to the model: list tasks,
// fetch output, kill. It works uniformly over every task kind.
type TaskQueryToolSet struct {
	registry *tasks.Registry
}

var _ tools.ToolSet = (*TaskQueryToolSet)(nil)

func NewTaskQueryToolSet(registry *tasks.Registry) *TaskQueryToolSet {
	return &TaskQueryToolSet{registry: registry}
}

type taskSummary struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Age         string `json:"age"`
	OutputBytes int    `json:"output_bytes"`
}

func (t *TaskQueryToolSet) listTasks(context.Context, tools.ToolCall) (*tools.ToolCallResult, error) {
	all := t.registry.List()
	if len(all) == 0 {
		return &tools.ToolCallResult{Output: "no tasks"}, nil
	}

	summaries := make([]taskSummary, len(all))
	for i, task := range all {
		summaries[i] = taskSummary{
			ID:          task.ID,
			Kind:        string(task.Kind),
			Status:      string(task.Status),
			Age:         time.Since(task.StartedAt).Round(time.Second).String(),
			OutputBytes: len(task.Output),
		}
	}
	payload, err := json.Marshal(summaries)
	if err != nil {
		return nil, err
	}
	return &tools.ToolCallResult{Output: string(payload)}, nil
}

type TaskOutputArgs struct {
	TaskID  string `json:"task_id" jsonschema:"The task identifier returned when the task was started"`
	Wait    bool   `json:"wait,omitempty" jsonschema:"Block until the task finishes or the timeout elapses"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"Wait timeout in seconds; default 30"`
}

func (t *TaskQueryToolSet) taskOutput(ctx context.Context, toolCall tools.ToolCall) (*tools.ToolCallResult, error) {
	var args TaskOutputArgs
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "invalid task_output arguments: %v", err)
	}

	var task tasks.Task
	var err error
	if args.Wait {
		timeout := DefaultWaitTimeout
		if args.Timeout > 0 {
			timeout = time.Duration(args.Timeout) * time.Second
		}
		task, err = t.registry.Wait(ctx, args.TaskID, timeout)
	} else {
		task, err = t.registry.Status(args.TaskID)
	}
	if err != nil {
		return nil, tools.Errorf(tools.ErrorKindNotFound, tools.CodeNotFound, "no such task %q", args.TaskID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "task %s: %s", task.ID, task.Status)
	if task.Status == tasks.StatusCompleted {
		fmt.Fprintf(&b, " (exit status %d)", task.ExitCode)
	}
	b.WriteString("\n")
	if task.Output == "" {
		b.WriteString("(no output)")
	} else {
		b.WriteString(task.Output)
	}
	return &tools.ToolCallResult{Output: b.String()}, nil
}

type KillTaskArgs struct {
	TaskID string `json:"task_id" jsonschema:"The task identifier to kill"`
}

func (t *TaskQueryToolSet) killTask(_ context.Context, toolCall tools.ToolCall) (*tools.ToolCallResult, error) {
	var args KillTaskArgs
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "invalid kill_shell arguments: %v", err)
	}

	switch t.registry.Kill(args.TaskID) {
	case tasks.KillSignaled:
		return &tools.ToolCallResult{Output: fmt.Sprintf("task %s killed", args.TaskID)}, nil
	case tasks.KillAlreadyTerminal:
		return &tools.ToolCallResult{Output: fmt.Sprintf("task %s had already finished", args.TaskID)}, nil
	default:
		return nil, tools.Errorf(tools.ErrorKindNotFound, tools.CodeNotFound, "no such task %q", args.TaskID)
	}
}

func (t *TaskQueryToolSet) Instructions() string {
	return `## Background tasks

"tasks" lists every known background task with its status. "task_output"
fetches a task's accumulated output; pass "wait": true to block until it
finishes (bounded by "timeout", default 30s — a timeout returns the
running snapshot). "kill_shell" terminates a running task.`
}

func (t *TaskQueryToolSet) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        "tasks",
			Category:    "tasks",
			Description: "Lists all background tasks with id, kind, status, age, and output size.",
			Parameters:  tools.ToolSchema{Type: "object"},
			Handler:     t.listTasks,
			Annotations: tools.ToolAnnotations{
				Title:        "List Tasks",
				ReadOnlyHint: true,
			},
		},
		{
			Name:        "task_output",
			Category:    "tasks",
			Description: "Fetches a background task's status and accumulated output, optionally waiting for it to finish.",
			Parameters:  tools.MustSchemaFor[TaskOutputArgs](),
			Handler:     t.taskOutput,
			Annotations: tools.ToolAnnotations{
				Title:        "Get Task Output",
				ReadOnlyHint: true,
			},
		},
		{
			Name:        "kill_shell",
			Category:    "tasks",
			Description: "Kills a running background task by identifier.",
			Parameters:  tools.MustSchemaFor[KillTaskArgs](),
			Handler:     t.killTask,
			Annotations: tools.ToolAnnotations{
				Title:           "Kill Task",
				DestructiveHint: true,
			},
		},
	}, nil
}

func (t *TaskQueryToolSet) Start(context.Context) error { return nil }
func (t *TaskQueryToolSet) Stop() error                 { return nil }
