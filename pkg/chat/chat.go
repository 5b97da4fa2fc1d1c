// Package chat defines the provider-neutral message and stream types
// exchanged between the interaction engine and model providers.
package chat

import "github.com/weftwork/weft/pkg/tools"

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// Message is one entry in an interaction's history.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []tools.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and IsError are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Role: MessageRoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

func NewAssistantMessage(content string, toolCalls []tools.ToolCall) Message {
	return Message{Role: MessageRoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolResultMessage pairs a tool's output back to the assistant tool
// call that requested it.
func NewToolResultMessage(toolCallID, content string, isError bool) Message {
	return Message{Role: MessageRoleTool, Content: content, ToolCallID: toolCallID, IsError: isError}
}

type FinishReason string

const (
	FinishReasonNull      FinishReason = ""
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
)

// Usage is the provider-reported token accounting for one turn.
type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens,omitempty"`
	CacheWriteTokens  int64 `json:"cache_write_tokens,omitempty"`
	ReasoningTokens   int64 `json:"reasoning_tokens,omitempty"`
}

// Add accumulates another turn's usage into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// ContextTokens is the number of context-window tokens one turn occupied:
// everything the model read plus everything it wrote.
func (u *Usage) ContextTokens() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.CachedInputTokens + u.OutputTokens
}

// RateLimit carries provider rate-limit headers when the transport
// surfaces them. All values are zero when unknown.
type RateLimit struct {
	Limit      int64 `json:"limit"`
	Remaining  int64 `json:"remaining"`
	Reset      int64 `json:"reset"`
	RetryAfter int64 `json:"retry_after"`
}

// MessageDelta is the incremental payload of one stream chunk.
type MessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// ToolCalls are partial: a provider may send the call ID and name
	// first and stream the arguments in later fragments. Fragments for
	// the same call share an ID or an Index; consumers merge them.
	ToolCalls []tools.ToolCall `json:"tool_calls,omitempty"`
}

type MessageStreamChoice struct {
	Index        int          `json:"index"`
	Delta        MessageDelta `json:"delta"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// MessageStreamResponse is one chunk of a model turn, normalized across
// providers.
type MessageStreamResponse struct {
	ID        string                `json:"id,omitempty"`
	Model     string                `json:"model,omitempty"`
	Choices   []MessageStreamChoice `json:"choices,omitempty"`
	Usage     *Usage                `json:"usage,omitempty"`
	RateLimit *RateLimit            `json:"rate_limit,omitempty"`
}

// MessageStream yields the chunks of one model turn. Recv returns io.EOF
// after the final chunk; Close is safe to call at any point and more than
// once.
type MessageStream interface {
	Recv() (MessageStreamResponse, error)
	Close()
}
