package builtin

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/bus"
	"github.com/weftwork/weft/pkg/tools"
)

func openQueryBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.Open(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func busEventsCall(t *testing.T, args BusEventsArgs) tools.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return tools.ToolCall{ID: "call_1", Type: "function", Function: tools.FunctionCall{Name: "bus_events", Arguments: string(raw)}}
}

func TestBusEventsReadsAllTopicsByDefault(t *testing.T) {
	b := openQueryBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "task:a", "task_finished", "first", "")
	require.NoError(t, err)
	_, err = b.Publish(ctx, "task:b", "task_finished", "second", "")
	require.NoError(t, err)

	toolset := NewBusQueryToolSet(b)
	result, err := toolset.readEvents(ctx, tools.ToolCall{ID: "call_1", Type: "function", Function: tools.FunctionCall{Name: "bus_events"}})
	require.NoError(t, err)

	var events []busEvent
	require.NoError(t, json.Unmarshal([]byte(result.Output), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Payload)
	assert.Equal(t, "second", events[1].Payload)
}

func TestBusEventsFiltersByTopicAndSequence(t *testing.T) {
	b := openQueryBus(t)
	ctx := context.Background()

	for _, payload := range []string{"one", "two", "three"} {
		_, err := b.Publish(ctx, "task:a", "task_finished", payload, "")
		require.NoError(t, err)
	}
	_, err := b.Publish(ctx, "task:other", "task_finished", "noise", "")
	require.NoError(t, err)

	toolset := NewBusQueryToolSet(b)
	result, err := toolset.readEvents(ctx, busEventsCall(t, BusEventsArgs{Topic: "task:a", AfterSeq: 1}))
	require.NoError(t, err)

	var events []busEvent
	require.NoError(t, json.Unmarshal([]byte(result.Output), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[0].Payload)
	assert.Equal(t, "three", events[1].Payload)
}

func TestBusEventsEmptyTopic(t *testing.T) {
	toolset := NewBusQueryToolSet(openQueryBus(t))

	result, err := toolset.readEvents(context.Background(), busEventsCall(t, BusEventsArgs{Topic: "task:nothing"}))
	require.NoError(t, err)
	assert.Equal(t, "no records", result.Output)
}

func TestBusSessionsListsLiveSessions(t *testing.T) {
	b := openQueryBus(t)
	ctx := context.Background()
	toolset := NewBusQueryToolSet(b)

	result, err := toolset.listSessions(ctx, tools.ToolCall{ID: "call_1"})
	require.NoError(t, err)
	assert.Equal(t, "no live sessions", result.Output)

	_, _, err = b.RegisterSession(ctx, "weft exec", "box", "/work", "")
	require.NoError(t, err)

	result, err = toolset.listSessions(ctx, tools.ToolCall{ID: "call_2"})
	require.NoError(t, err)

	var sessions []bus.Session
	require.NoError(t, json.Unmarshal([]byte(result.Output), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "weft exec", sessions[0].Name)
}
