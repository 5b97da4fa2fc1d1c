// Package provider selects and constructs model backend clients.
package provider

import (
	"context"
	"fmt"

	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/environment"
	"github.com/weftwork/weft/pkg/model/provider/anthropic"
	"github.com/weftwork/weft/pkg/model/provider/base"
	"github.com/weftwork/weft/pkg/model/provider/openai"
	"github.com/weftwork/weft/pkg/tools"
)

// Config is the model selection shared by all providers.
type Config = base.Config

// TransportError annotates an API failure with retryability.
type TransportError = base.TransportError

// Provider is a streaming model backend.
type Provider interface {
	// ID identifies the provider/model pair, for logs.
	ID() string

	// CreateChatCompletionStream starts one model turn over the given
	// history with the given tools offered. The returned stream yields
	// normalized chunks and io.EOF after the last one.
	CreateChatCompletionStream(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (chat.MessageStream, error)
}

// New builds the client for cfg.Provider. Credentials are resolved
// through env at construction time, so a missing API key fails fast
// instead of on the first model call.
func New(ctx context.Context, cfg Config, env environment.Provider) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(ctx, cfg, env)
	case "openai":
		return openai.NewClient(ctx, cfg, env)
	default:
		return nil, fmt.Errorf("unknown model provider %q (supported: anthropic, openai)", cfg.Provider)
	}
}
