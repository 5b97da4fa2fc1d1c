package builtin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/weftwork/weft/pkg/cancellation"
	"github.com/weftwork/weft/pkg/tasks"
	"github.com/weftwork/weft/pkg/tools"
)

// SubAgent is one delegated interaction run. The concrete implementation
// is a fresh engine over the same provider with a restricted toolset;
// the indirection keeps wiring (provider, permissions) out of this
// package.
type SubAgent interface {
	Run(ctx context.Context, token cancellation.Token, prompt string) (response string, err error)
}

// SubAgentFactory builds a fresh sub-agent per delegation. Each call gets
// its own conversation history.
type SubAgentFactory func() SubAgent

// TaskToolSet delegates work to a sub-agent running as a background
// task. The delegation returns a task identifier immediately; the
// sub-agent's final response becomes the task output.
type TaskToolSet struct {
	registry    *tasks.Registry
	newSubAgent SubAgentFactory
}

var _ tools.ToolSet = (*TaskToolSet)(nil)

func NewTaskToolSet(registry *tasks.Registry, factory SubAgentFactory) *TaskToolSet {
	return &TaskToolSet{registry: registry, newSubAgent: factory}
}

type DelegateArgs struct {
	Prompt string `json:"prompt" jsonschema:"The full task description for the delegated agent; it starts with no other context"`
}

func (t *TaskToolSet) delegate(_ context.Context, toolCall tools.ToolCall) (*tools.ToolCallResult, error) {
	var args DelegateArgs
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "invalid task arguments: %v", err)
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "prompt must not be empty")
	}

	agent := t.newSubAgent()
	prompt := args.Prompt

	id := t.registry.Spawn(tasks.KindSubagent, func(ctx context.Context, h *tasks.Handle) {
		// Killing the task cancels ctx; bridge that into the sub-agent's
		// cancellation token so its loop stops at the next checkpoint.
		token := cancellation.NewToken()
		stop := context.AfterFunc(ctx, token.Cancel)
		defer stop()

		response, err := agent.Run(ctx, token, prompt)
		if err != nil {
			h.Fail("delegated interaction failed: " + err.Error())
			return
		}
		h.Append(response)
		h.Complete(0)
	})

	payload, err := json.Marshal(backgroundStarted{TaskID: id, Status: string(tasks.StatusRunning)})
	if err != nil {
		return nil, err
	}
	return &tools.ToolCallResult{Output: string(payload)}, nil
}

func (t *TaskToolSet) Instructions() string {
	return `## Delegation

The "task" tool hands a self-contained piece of work to a separate agent
that runs in the background with its own conversation. The delegated
agent cannot see this conversation, so the prompt must carry all needed
context. The call returns a task_id immediately; collect the result with
"task_output" (use "wait": true when you need it before continuing).`
}

func (t *TaskToolSet) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        "task",
			Category:    "tasks",
			Description: "Delegates a self-contained task to a background sub-agent and returns its task_id.",
			Parameters:  tools.MustSchemaFor[DelegateArgs](),
			Handler:     t.delegate,
			Annotations: tools.ToolAnnotations{
				Title:          "Delegate Task",
				BackgroundHint: true,
			},
		},
	}, nil
}

func (t *TaskToolSet) Start(context.Context) error { return nil }
func (t *TaskToolSet) Stop() error                 { return nil }
