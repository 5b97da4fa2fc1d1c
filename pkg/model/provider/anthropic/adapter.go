package anthropic

import (
	"errors"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/model/provider/base"
	"github.com/weftwork/weft/pkg/tools"
)

// streamAdapter converts the Anthropic event stream into neutral chunks.
// Tool-call argument fragments all carry the call's block ID, so the
// consumer can merge them by ID alone.
type streamAdapter struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	toolID   string
	toolCall bool
}

func (a *streamAdapter) Recv() (chat.MessageStreamResponse, error) {
	if !a.stream.Next() {
		if err := a.stream.Err(); err != nil {
			return chat.MessageStreamResponse{}, wrapError(err)
		}
		return chat.MessageStreamResponse{}, io.EOF
	}

	event := a.stream.Current()
	response := chat.MessageStreamResponse{
		ID:    event.Message.ID,
		Model: string(event.Message.Model),
		Choices: []chat.MessageStreamChoice{
			{Delta: chat.MessageDelta{Role: string(chat.MessageRoleAssistant)}},
		},
	}

	switch eventVariant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := eventVariant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			a.toolID = block.ID
			a.toolCall = true
			response.Choices[0].Delta.ToolCalls = []tools.ToolCall{{
				ID:   a.toolID,
				Type: "function",
				Function: tools.FunctionCall{
					Name: block.Name,
				},
			}}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch deltaVariant := eventVariant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			response.Choices[0].Delta.Content = deltaVariant.Text
		case anthropic.InputJSONDelta:
			response.Choices[0].Delta.ToolCalls = []tools.ToolCall{{
				ID:   a.toolID,
				Type: "function",
				Function: tools.FunctionCall{
					Arguments: deltaVariant.PartialJSON,
				},
			}}
		}
	case anthropic.MessageDeltaEvent:
		response.Usage = &chat.Usage{
			InputTokens:       eventVariant.Usage.InputTokens,
			OutputTokens:      eventVariant.Usage.OutputTokens,
			CachedInputTokens: eventVariant.Usage.CacheReadInputTokens,
			CacheWriteTokens:  eventVariant.Usage.CacheCreationInputTokens,
		}
	case anthropic.MessageStopEvent:
		if a.toolCall {
			response.Choices[0].FinishReason = chat.FinishReasonToolCalls
		} else {
			response.Choices[0].FinishReason = chat.FinishReasonStop
		}
	}

	return response, nil
}

func (a *streamAdapter) Close() {
	if a.stream != nil {
		a.stream.Close()
	}
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return base.WrapTransport(apiErr.StatusCode, err)
	}
	return base.WrapTransport(0, err)
}
