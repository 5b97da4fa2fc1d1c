// Package runtime drives interactions with a model: it streams model
// output, executes the tool calls the model requests, feeds results back,
// and repeats until the model stops asking for tools. All observable
// activity flows through one outbound event channel per interaction.
package runtime

import (
	"time"

	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/tools"
)

// Event is the tagged union delivered on an interaction's outbound
// channel. Events from one interaction preserve emission order; no
// ordering holds across independent interactions.
type Event interface {
	isEvent()
}

// TextDeltaEvent is one streamed chunk of assistant text, forwarded as it
// arrives.
type TextDeltaEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func TextDelta(content string) Event {
	return &TextDeltaEvent{Type: "text_delta", Content: content}
}

func (e *TextDeltaEvent) isEvent() {}

// ToolBatchEvent announces the full batch of tool calls the model
// requested in one turn, before any of them runs.
type ToolBatchEvent struct {
	Type  string           `json:"type"`
	Calls []tools.ToolCall `json:"calls"`
}

func ToolBatch(calls []tools.ToolCall) Event {
	return &ToolBatchEvent{Type: "tool_batch", Calls: calls}
}

func (e *ToolBatchEvent) isEvent() {}

// ToolResultEvent reports the outcome of one tool call.
type ToolResultEvent struct {
	Type   string          `json:"type"`
	Call   tools.ToolCall  `json:"call"`
	Result ExecutionResult `json:"result"`
}

func ToolResult(call tools.ToolCall, result ExecutionResult) Event {
	return &ToolResultEvent{Type: "tool_result", Call: call, Result: result}
}

func (e *ToolResultEvent) isEvent() {}

// ToolOutputEvent carries one progress line a tool pushed to its output
// sink while still running.
type ToolOutputEvent struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Line   string `json:"line"`
}

func ToolOutput(callID, line string) Event {
	return &ToolOutputEvent{Type: "tool_output", CallID: callID, Line: line}
}

func (e *ToolOutputEvent) isEvent() {}

// RetryEvent notifies that a transient transport failure is being
// retried.
type RetryEvent struct {
	Type        string        `json:"type"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	Cause       string        `json:"cause"`
}

func Retry(attempt, maxAttempts int, delay time.Duration, cause error) Event {
	return &RetryEvent{
		Type:        "retry",
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Cause:       cause.Error(),
	}
}

func (e *RetryEvent) isEvent() {}

// ContextWarningEvent fires once when context-window usage crosses the
// warning threshold, re-armed only after usage drops back below it.
type ContextWarningEvent struct {
	Type  string  `json:"type"`
	Used  int64   `json:"used"`
	Limit int64   `json:"limit"`
	Ratio float64 `json:"ratio"`
}

func ContextWarning(used, limit int64) Event {
	return &ContextWarningEvent{
		Type:  "context_warning",
		Used:  used,
		Limit: limit,
		Ratio: float64(used) / float64(limit),
	}
}

func (e *ContextWarningEvent) isEvent() {}

// CancelledEvent marks the interaction as cancelled. Cancellation is a
// normal terminal outcome, not a failure.
type CancelledEvent struct {
	Type string `json:"type"`
}

func Cancelled() Event {
	return &CancelledEvent{Type: "cancelled"}
}

func (e *CancelledEvent) isEvent() {}

// InteractionCompleteEvent is the successful terminal event, carrying the
// provider-assigned interaction identifier, the final response text, and
// the accumulated token usage.
type InteractionCompleteEvent struct {
	Type          string     `json:"type"`
	InteractionID string     `json:"interaction_id,omitempty"`
	Response      string     `json:"response"`
	Usage         chat.Usage `json:"usage"`
}

func InteractionComplete(interactionID, response string, usage chat.Usage) Event {
	return &InteractionCompleteEvent{
		Type:          "interaction_complete",
		InteractionID: interactionID,
		Response:      response,
		Usage:         usage,
	}
}

func (e *InteractionCompleteEvent) isEvent() {}

// ErrorEvent is the failing terminal event: transport retries exhausted,
// the iteration ceiling hit, or an engine fault.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func Error(msg string) Event {
	return &ErrorEvent{Type: "error", Error: msg}
}

func (e *ErrorEvent) isEvent() {}
