package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/weftwork/weft/pkg/bus"
	"github.com/weftwork/weft/pkg/tools"
)

// DefaultBusEventLimit caps bus_events responses that do not ask for a
// smaller page.
const DefaultBusEventLimit = 50

// BusQueryToolSet gives the model read access to the cross-session
// event bus: recent records per topic and the live session roster.
type BusQueryToolSet struct {
	bus *bus.Bus
}

var _ tools.ToolSet = (*BusQueryToolSet)(nil)

func NewBusQueryToolSet(b *bus.Bus) *BusQueryToolSet {
	return &BusQueryToolSet{bus: b}
}

type BusEventsArgs struct {
	Topic    string `json:"topic,omitempty" jsonschema:"Topic to read: task:<task-id>, session:<session-id>, or the catch-all 'all' (default)"`
	AfterSeq int64  `json:"after_seq,omitempty" jsonschema:"Only records with a sequence greater than this"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of records to return; default 50"`
}

type busEvent struct {
	Topic     string `json:"topic"`
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	SessionID string `json:"session_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (t *BusQueryToolSet) readEvents(ctx context.Context, toolCall tools.ToolCall) (*tools.ToolCallResult, error) {
	var args BusEventsArgs
	if raw := strings.TrimSpace(toolCall.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "invalid bus_events arguments: %v", err)
		}
	}
	topic := args.Topic
	if topic == "" {
		topic = bus.TopicAll
	}
	limit := args.Limit
	if limit <= 0 {
		limit = DefaultBusEventLimit
	}

	records, err := t.bus.Read(ctx, topic, args.AfterSeq, bus.ReadOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &tools.ToolCallResult{Output: "no records"}, nil
	}

	events := make([]busEvent, len(records))
	for i, record := range records {
		events[i] = busEvent{
			Topic:     record.Topic,
			Seq:       record.Seq,
			Type:      record.Type,
			Payload:   record.Payload,
			SessionID: record.SessionID,
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		}
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	return &tools.ToolCallResult{Output: string(payload)}, nil
}

func (t *BusQueryToolSet) listSessions(ctx context.Context, _ tools.ToolCall) (*tools.ToolCallResult, error) {
	sessions, err := t.bus.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return &tools.ToolCallResult{Output: "no live sessions"}, nil
	}
	payload, err := json.Marshal(sessions)
	if err != nil {
		return nil, err
	}
	return &tools.ToolCallResult{Output: string(payload)}, nil
}

func (t *BusQueryToolSet) Instructions() string {
	return `## Event bus

Background task completions from every runtime instance are recorded on
a shared event bus. Use "bus_events" to read recent records (topic
"task:<task-id>" for one task, "all" for everything) and "bus_sessions"
to see which instances are currently live. Remember the last sequence
you saw and pass it as "after_seq" to read only what is new.`
}

func (t *BusQueryToolSet) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        "bus_events",
			Category:    "bus",
			Description: "Reads recent event-bus records for a topic, in sequence order.",
			Parameters:  tools.MustSchemaFor[BusEventsArgs](),
			Handler:     t.readEvents,
			Annotations: tools.ToolAnnotations{
				Title:        "Read Bus Events",
				ReadOnlyHint: true,
			},
		},
		{
			Name:        "bus_sessions",
			Category:    "bus",
			Description: "Lists runtime sessions with a live heartbeat.",
			Parameters:  tools.ToolSchema{Type: "object"},
			Handler:     t.listSessions,
			Annotations: tools.ToolAnnotations{
				Title:        "List Bus Sessions",
				ReadOnlyHint: true,
			},
		},
	}, nil
}

func (t *BusQueryToolSet) Start(context.Context) error { return nil }
func (t *BusQueryToolSet) Stop() error                 { return nil }
