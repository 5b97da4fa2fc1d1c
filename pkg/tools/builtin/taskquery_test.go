package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/tasks"
	"github.com/weftwork/weft/pkg/tools"
)

func queryCall(t *testing.T, name string, args any) tools.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return tools.ToolCall{ID: "call_1", Type: "function", Function: tools.FunctionCall{Name: name, Arguments: string(raw)}}
}

func TestListTasksEmpty(t *testing.T) {
	toolset := NewTaskQueryToolSet(tasks.NewRegistry())

	result, err := toolset.listTasks(context.Background(), queryCall(t, "tasks", struct{}{}))
	require.NoError(t, err)
	assert.Equal(t, "no tasks", result.Output)
}

func TestListTasksSummarizes(t *testing.T) {
	registry := tasks.NewRegistry()
	toolset := NewTaskQueryToolSet(registry)

	id := registry.Spawn(tasks.KindShell, func(_ context.Context, h *tasks.Handle) {
		h.Append("some output")
		h.Complete(0)
	})
	_, err := registry.Wait(context.Background(), id, time.Second)
	require.NoError(t, err)

	result, err := toolset.listTasks(context.Background(), queryCall(t, "tasks", struct{}{}))
	require.NoError(t, err)

	var summaries []taskSummary
	require.NoError(t, json.Unmarshal([]byte(result.Output), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ID)
	assert.Equal(t, "shell", summaries[0].Kind)
	assert.Equal(t, "completed", summaries[0].Status)
	assert.Equal(t, len("some output"), summaries[0].OutputBytes)
}

func TestTaskOutputUnknownTask(t *testing.T) {
	toolset := NewTaskQueryToolSet(tasks.NewRegistry())

	_, err := toolset.taskOutput(context.Background(), queryCall(t, "task_output", TaskOutputArgs{TaskID: "shell:missing"}))

	var toolErr *tools.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tools.ErrorKindNotFound, toolErr.Kind)
}

func TestTaskOutputWaitReturnsFinishedTask(t *testing.T) {
	registry := tasks.NewRegistry()
	toolset := NewTaskQueryToolSet(registry)

	id := registry.Spawn(tasks.KindShell, func(_ context.Context, h *tasks.Handle) {
		time.Sleep(50 * time.Millisecond)
		h.AppendLine("finished work")
		h.Complete(0)
	})

	result, err := toolset.taskOutput(context.Background(), queryCall(t, "task_output", TaskOutputArgs{TaskID: id, Wait: true, Timeout: 5}))
	require.NoError(t, err)
	assert.Contains(t, result.Output, "completed (exit status 0)")
	assert.Contains(t, result.Output, "finished work")
}

func TestTaskOutputWaitTimeoutReturnsRunningSnapshot(t *testing.T) {
	registry := tasks.NewRegistry()
	toolset := NewTaskQueryToolSet(registry)

	release := make(chan struct{})
	id := registry.Spawn(tasks.KindShell, func(_ context.Context, h *tasks.Handle) {
		h.AppendLine("still going")
		<-release
		h.Complete(0)
	})
	defer close(release)

	result, err := toolset.taskOutput(context.Background(), queryCall(t, "task_output", TaskOutputArgs{TaskID: id, Wait: true, Timeout: 1}))
	require.NoError(t, err)
	assert.Contains(t, result.Output, "running")
	assert.Contains(t, result.Output, "still going")
}

func TestKillTaskOutcomes(t *testing.T) {
	registry := tasks.NewRegistry()
	toolset := NewTaskQueryToolSet(registry)

	release := make(chan struct{})
	running := registry.Spawn(tasks.KindShell, func(_ context.Context, h *tasks.Handle) {
		<-release
		h.Complete(0)
	})
	defer close(release)

	finished := registry.Spawn(tasks.KindShell, func(_ context.Context, h *tasks.Handle) {
		h.Complete(0)
	})
	_, err := registry.Wait(context.Background(), finished, time.Second)
	require.NoError(t, err)

	result, err := toolset.killTask(context.Background(), queryCall(t, "kill_shell", KillTaskArgs{TaskID: running}))
	require.NoError(t, err)
	assert.Contains(t, result.Output, "killed")

	result, err = toolset.killTask(context.Background(), queryCall(t, "kill_shell", KillTaskArgs{TaskID: finished}))
	require.NoError(t, err)
	assert.Contains(t, result.Output, "already finished")

	_, err = toolset.killTask(context.Background(), queryCall(t, "kill_shell", KillTaskArgs{TaskID: "shell:missing"}))
	var toolErr *tools.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tools.ErrorKindNotFound, toolErr.Kind)
}
