// Package anthropic adapts the Anthropic Messages API to the neutral
// chat stream interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/environment"
	"github.com/weftwork/weft/pkg/model/provider/base"
	"github.com/weftwork/weft/pkg/tools"
)

// defaultMaxTokens is a safe per-turn output cap for all current
// Anthropic models.
const defaultMaxTokens = 8192

type Client struct {
	cfg    base.Config
	client anthropic.Client
}

func NewClient(ctx context.Context, cfg base.Config, env environment.Provider) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	apiKey, _ := env.Get(ctx, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, &environment.RequiredEnvError{Missing: []string{"ANTHROPIC_API_KEY"}}
	}

	requestOptions := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("Anthropic client created", "model", cfg.Model)
	return &Client{
		cfg:    cfg,
		client: anthropic.NewClient(requestOptions...),
	}, nil
}

func (c *Client) ID() string {
	return "anthropic/" + c.cfg.Model
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (chat.MessageStream, error) {
	slog.Debug("Creating Anthropic chat completion stream",
		"model", c.cfg.Model,
		"message_count", len(messages),
		"tool_count", len(requestTools))

	maxTokens := c.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	converted := convertMessages(messages)
	if len(converted) == 0 {
		return nil, errors.New("anthropic: no messages to send after conversion")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: maxTokens,
		System:    extractSystemBlocks(messages),
		Messages:  converted,
		Tools:     convertTools(requestTools),
	}

	stream := c.client.Messages.NewStreaming(ctx, params,
		option.WithHeader("anthropic-beta", "fine-grained-tool-streaming-2025-05-14"))
	return &streamAdapter{stream: stream}, nil
}

// convertMessages maps the neutral history onto Anthropic's block model:
// assistant tool calls become tool_use blocks, and consecutive tool
// results are grouped into the single user message Anthropic requires
// immediately after them.
func convertMessages(messages []chat.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for i := 0; i < len(messages); i++ {
		msg := &messages[i]
		switch msg.Role {
		case chat.MessageRoleSystem:
			// Carried via the top-level System field.

		case chat.MessageRoleUser:
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}

		case chat.MessageRoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
			for _, toolCall := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    toolCall.ID,
						Name:  toolCall.Function.Name,
						Input: input,
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		case chat.MessageRoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			j := i
			for j < len(messages) && messages[j].Role == chat.MessageRoleTool {
				blocks = append(blocks,
					anthropic.NewToolResultBlock(messages[j].ToolCallID, strings.TrimSpace(messages[j].Content), messages[j].IsError))
				j++
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
			i = j - 1
		}
	}
	return out
}

func extractSystemBlocks(messages []chat.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for i := range messages {
		if messages[i].Role != chat.MessageRoleSystem {
			continue
		}
		if txt := strings.TrimSpace(messages[i].Content); txt != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: txt})
		}
	}
	return blocks
}

func convertTools(requestTools []tools.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: param.NewOpt(tool.Description),
				InputSchema: convertSchema(tool.Parameters),
			},
		}
	}
	return out
}

// convertSchema round-trips the schema through JSON rather than
// depending on the SDK schema struct's internals.
func convertSchema(schema tools.ToolSchema) anthropic.ToolInputSchemaParam {
	var out anthropic.ToolInputSchemaParam
	raw, err := json.Marshal(schema.AsMap())
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
