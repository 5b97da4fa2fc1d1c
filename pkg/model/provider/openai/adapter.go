package openai

import (
	"errors"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/model/provider/base"
	"github.com/weftwork/weft/pkg/tools"
)

// streamAdapter converts OpenAI chat completion chunks into neutral
// chunks. OpenAI identifies tool-call argument fragments by index and
// sends the call ID only on the first fragment, so the adapter tracks
// index-to-ID and stamps every fragment with its ID.
type streamAdapter struct {
	stream    *ssestream.Stream[openai.ChatCompletionChunk]
	toolCalls map[int64]string
}

func newStreamAdapter(stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamAdapter {
	return &streamAdapter{
		stream:    stream,
		toolCalls: make(map[int64]string),
	}
}

func (a *streamAdapter) Recv() (chat.MessageStreamResponse, error) {
	if !a.stream.Next() {
		if err := a.stream.Err(); err != nil {
			return chat.MessageStreamResponse{}, wrapError(err)
		}
		return chat.MessageStreamResponse{}, io.EOF
	}

	chunk := a.stream.Current()
	response := chat.MessageStreamResponse{
		ID:      chunk.ID,
		Model:   chunk.Model,
		Choices: make([]chat.MessageStreamChoice, len(chunk.Choices)),
	}

	if chunk.JSON.Usage.Valid() {
		response.Usage = &chat.Usage{
			InputTokens:       chunk.Usage.PromptTokens,
			OutputTokens:      chunk.Usage.CompletionTokens,
			CachedInputTokens: chunk.Usage.PromptTokensDetails.CachedTokens,
			ReasoningTokens:   chunk.Usage.CompletionTokensDetails.ReasoningTokens,
		}
	}

	for i := range chunk.Choices {
		choice := &chunk.Choices[i]
		response.Choices[i] = chat.MessageStreamChoice{
			Index:        int(choice.Index),
			FinishReason: chat.FinishReason(choice.FinishReason),
			Delta: chat.MessageDelta{
				Role:    choice.Delta.Role,
				Content: choice.Delta.Content,
			},
		}

		if len(choice.Delta.ToolCalls) > 0 {
			converted := make([]tools.ToolCall, len(choice.Delta.ToolCalls))
			for j, toolCall := range choice.Delta.ToolCalls {
				id := toolCall.ID
				if existing, ok := a.toolCalls[toolCall.Index]; ok {
					id = existing
				} else {
					a.toolCalls[toolCall.Index] = id
				}

				index := int(toolCall.Index)
				converted[j] = tools.ToolCall{
					Index: &index,
					ID:    id,
					Type:  tools.ToolType(toolCall.Type),
					Function: tools.FunctionCall{
						Name:      toolCall.Function.Name,
						Arguments: toolCall.Function.Arguments,
					},
				}
			}
			response.Choices[i].Delta.ToolCalls = converted
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
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return base.WrapTransport(apiErr.StatusCode, err)
	}
	return base.WrapTransport(0, err)
}
