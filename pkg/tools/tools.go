// Package tools defines the capability contract between the interaction
// engine and the tools the model may invoke. A tool is a named operation
// with a JSON schema for its arguments and a handler; a ToolSet groups
// related tools behind a shared lifecycle.
package tools

import (
	"cmp"
	"context"
)

type ToolType string

// ToolCall is one tool invocation requested by the model. It is immutable
// once received; the ID pairs the eventual result back to the request.
type ToolCall struct {
	// Index orders argument fragments during streaming. Providers that
	// identify fragments by ID leave it nil.
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCallResult is the success payload of one tool invocation.
type ToolCallResult struct {
	Output string `json:"output"`
}

// ToolHandler executes one tool call. Expected failures are returned as a
// *ToolError so the model can see them and adapt; any other error is
// treated as an execution fault and wrapped by the coordinator.
type ToolHandler func(ctx context.Context, toolCall ToolCall) (*ToolCallResult, error)

// ToolAnnotations carry execution metadata the coordinator dispatches on.
// They are declarations, not hints inferred from tool names.
type ToolAnnotations struct {
	// Title is a human-friendly display name.
	Title string `json:"title,omitempty"`

	// ReadOnlyHint marks tools with no side effects. Read-only tools
	// bypass confirmation policies.
	ReadOnlyHint bool `json:"readOnlyHint,omitempty"`

	// DestructiveHint marks tools whose effects are hard to undo.
	DestructiveHint bool `json:"destructiveHint,omitempty"`

	// ExclusiveHint serializes this tool against other exclusive calls
	// in the same batch. Non-exclusive calls may run concurrently.
	ExclusiveHint bool `json:"exclusiveHint,omitempty"`

	// BackgroundHint marks tools that return a task identifier
	// immediately instead of blocking until the work finishes.
	BackgroundHint bool `json:"backgroundHint,omitempty"`
}

// Tool is one named capability exposed to the model.
type Tool struct {
	Name         string          `json:"name"`
	Category     string          `json:"category,omitempty"`
	Description  string          `json:"description,omitempty"`
	Parameters   ToolSchema      `json:"parameters"`
	OutputSchema ToolSchema      `json:"outputSchema,omitempty"`
	Annotations  ToolAnnotations `json:"annotations,omitempty"`
	Handler      ToolHandler     `json:"-"`
}

func (t *Tool) DisplayName() string {
	return cmp.Or(t.Annotations.Title, t.Name)
}

// ToolSet is a named group of tools sharing lifecycle and instructions.
type ToolSet interface {
	// Instructions returns usage guidance injected into the system prompt.
	Instructions() string
	Tools(ctx context.Context) ([]Tool, error)
	Start(ctx context.Context) error
	Stop() error
}
