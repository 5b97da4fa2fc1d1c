package bus

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/poll"

	"github.com/weftwork/weft/pkg/tasks"
)

func TestTaskNotifier_PublishesTerminalTransition(t *testing.T) {
	t.Parallel()
	b, err := Open(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	defer b.Close()

	registry := tasks.NewRegistry(tasks.WithNotifier(NewTaskNotifier(b, "sess-1")))

	id := registry.Spawn(tasks.KindShell, func(ctx context.Context, h *tasks.Handle) {
		h.AppendLine("42 tests passed")
		h.Complete(0)
	})

	_, err = registry.Wait(t.Context(), id, 5*time.Second)
	require.NoError(t, err)

	var records []Record
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		records, err = b.Read(t.Context(), TaskTopic(id), 0, ReadOptions{})
		if err != nil {
			return poll.Error(err)
		}
		if len(records) == 0 {
			return poll.Continue("record not yet published")
		}
		return poll.Success()
	})

	require.Len(t, records, 1)
	assert.Equal(t, RecordTypeTaskFinished, records[0].Type)
	assert.Equal(t, "sess-1", records[0].SessionID)

	var payload TaskPayload
	require.NoError(t, json.Unmarshal([]byte(records[0].Payload), &payload))
	assert.Equal(t, id, payload.TaskID)
	assert.Equal(t, "completed", payload.Status)
	assert.Equal(t, 0, payload.ExitCode)
	assert.Contains(t, payload.Summary, "42 tests passed")
}
