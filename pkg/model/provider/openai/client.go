// Package openai adapts the OpenAI Chat Completions API to the neutral
// chat stream interface. Any OpenAI-compatible endpoint works through
// the BaseURL override.
package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/environment"
	"github.com/weftwork/weft/pkg/model/provider/base"
	"github.com/weftwork/weft/pkg/tools"
)

type Client struct {
	cfg    base.Config
	client openai.Client
}

func NewClient(ctx context.Context, cfg base.Config, env environment.Provider) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	apiKey, _ := env.Get(ctx, "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, &environment.RequiredEnvError{Missing: []string{"OPENAI_API_KEY"}}
	}

	requestOptions := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("OpenAI client created", "model", cfg.Model)
	return &Client{
		cfg:    cfg,
		client: openai.NewClient(requestOptions...),
	}, nil
}

func (c *Client) ID() string {
	return "openai/" + c.cfg.Model
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (chat.MessageStream, error) {
	slog.Debug("Creating OpenAI chat completion stream",
		"model", c.cfg.Model,
		"message_count", len(messages),
		"tool_count", len(requestTools))

	if len(messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: convertMessages(messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.cfg.MaxTokens)
	}
	if len(requestTools) > 0 {
		params.Tools = convertTools(requestTools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	return newStreamAdapter(stream), nil
}

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case chat.MessageRoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))

		case chat.MessageRoleUser:
			out = append(out, openai.UserMessage(msg.Content))

		case chat.MessageRoleAssistant:
			// An assistant message with neither text nor tool calls is
			// invalid; this can happen when a turn ran out of tokens.
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			assistantParam := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistantParam.Content.OfString = openai.String(msg.Content)
			}
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(msg.ToolCalls))
				for j, toolCall := range msg.ToolCalls {
					toolCalls[j] = openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: toolCall.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      toolCall.Function.Name,
								Arguments: toolCall.Function.Arguments,
							},
						},
					}
				}
				assistantParam.ToolCalls = toolCalls
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantParam})

		case chat.MessageRoleTool:
			toolParam := openai.ChatCompletionToolMessageParam{
				ToolCallID: msg.ToolCallID,
			}
			toolParam.Content.OfString = openai.String(msg.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &toolParam})
		}
	}
	return out
}

func convertTools(requestTools []tools.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		// Some OpenAI-compatible backends reject tools without a
		// description.
		desc := tool.Description
		if desc == "" {
			desc = "Function " + tool.Name
		}
		out[i] = openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(desc),
			Parameters:  shared.FunctionParameters(tool.Parameters.AsMap()),
		})
	}
	return out
}
