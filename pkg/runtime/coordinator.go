package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/weftwork/weft/pkg/permissions"
	"github.com/weftwork/weft/pkg/tools"
)

// ExecutionResult is the outcome of one tool invocation, paired to its
// request by CallID. A failed call is still a result: tool-level errors
// are data for the model, never faults that abort the batch.
type ExecutionResult struct {
	CallID   string           `json:"call_id"`
	Output   string           `json:"output,omitempty"`
	Err      *tools.ToolError `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`

	// Cost approximates how many context tokens the result will occupy,
	// for UI estimation only.
	Cost int64 `json:"cost"`
}

func (r ExecutionResult) IsError() bool {
	return r.Err != nil
}

// Content renders the result as the tool message fed back to the model.
func (r ExecutionResult) Content() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Output == "" {
		return "(no output)"
	}
	return r.Output
}

// Approvals records which tool calls the user has confirmed, either one
// call at a time or wholesale for the rest of the session.
type Approvals struct {
	mu    sync.Mutex
	all   bool
	calls map[string]struct{}
}

func NewApprovals() *Approvals {
	return &Approvals{calls: make(map[string]struct{})}
}

// Approve records confirmation for a single call identifier, allowing
// the caller to resubmit that call.
func (a *Approvals) Approve(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[callID] = struct{}{}
}

// ApproveAll confirms every future call in this session.
func (a *Approvals) ApproveAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.all = true
}

func (a *Approvals) Approved(callID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.all {
		return true
	}
	_, ok := a.calls[callID]
	return ok
}

// defaultMaxParallel bounds how many concurrent-safe calls of one batch
// run at once.
const defaultMaxParallel = 4

// Coordinator executes the batch of tool calls a model turn requested.
// Results are order-preserving: result i always answers call i, however
// the calls were scheduled internally.
type Coordinator struct {
	toolMap     map[string]tools.Tool
	checker     *permissions.Checker
	approvals   *Approvals
	tracer      trace.Tracer
	maxParallel int
}

type CoordinatorConfig struct {
	// Tools are the capabilities available this session, dispatched by
	// declared name and metadata only.
	Tools []tools.Tool
	// Permissions classifies destructive calls; nil means ask for
	// everything that is not read-only.
	Permissions *permissions.Checker
	// Approvals carries the session's confirmation state; nil starts
	// with nothing approved.
	Approvals *Approvals
	// Tracer is optional; without it no spans are recorded.
	Tracer trace.Tracer
	// MaxParallel bounds concurrent-safe execution; 0 means the default.
	MaxParallel int
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	toolMap := make(map[string]tools.Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		toolMap[t.Name] = t
	}
	checker := cfg.Permissions
	if checker == nil {
		checker = permissions.NewChecker(nil)
	}
	approvals := cfg.Approvals
	if approvals == nil {
		approvals = NewApprovals()
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	return &Coordinator{
		toolMap:     toolMap,
		checker:     checker,
		approvals:   approvals,
		tracer:      cfg.Tracer,
		maxParallel: maxParallel,
	}
}

// Execute runs one batch and returns exactly len(calls) results in
// request order.
//
// Calls whose tool declares ExclusiveHint are serialized against each
// other, in batch order, on the calling goroutine; the remaining calls
// may overlap them and each other up to MaxParallel. Execute returns
// only after every member of the batch has produced a result, so an
// exclusive call in a following batch can never overtake this one.
func (c *Coordinator) Execute(ctx context.Context, calls []tools.ToolCall, emit func(Event)) []ExecutionResult {
	results := make([]ExecutionResult, len(calls))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.maxParallel)

	var exclusive []int
	for i, call := range calls {
		tool, known := c.toolMap[call.Function.Name]
		if known && tool.Annotations.ExclusiveHint {
			exclusive = append(exclusive, i)
			continue
		}
		group.Go(func() error {
			results[i] = c.executeOne(groupCtx, calls[i], emit)
			return nil
		})
	}

	for _, i := range exclusive {
		results[i] = c.executeOne(ctx, calls[i], emit)
	}

	_ = group.Wait()
	return results
}

func (c *Coordinator) executeOne(ctx context.Context, call tools.ToolCall, emit func(Event)) ExecutionResult {
	ctx, span := c.startSpan(ctx, "runtime.tool.call", trace.WithAttributes(
		attribute.String("tool.name", call.Function.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	result := c.dispatch(ctx, call, emit)

	if result.Err != nil {
		span.SetStatus(codes.Error, string(result.Err.Kind))
	} else {
		span.SetStatus(codes.Ok, "tool call completed")
	}
	emit(ToolResult(call, result))
	return result
}

func (c *Coordinator) dispatch(ctx context.Context, call tools.ToolCall, emit func(Event)) ExecutionResult {
	name := call.Function.Name

	tool, known := c.toolMap[name]
	if !known {
		return errorResult(call, tools.Errorf(tools.ErrorKindUnknownTool, tools.CodeUnknownTool,
			"tool %q is not available", name))
	}

	switch c.checker.CheckWithArgs(name, parseArguments(call.Function.Arguments)) {
	case permissions.Deny:
		slog.Debug("Tool call denied by policy", "tool", name, "call_id", call.ID)
		return errorResult(call, tools.Errorf(tools.ErrorKindDenied, tools.CodeDenied,
			"tool %q is denied by the permissions configuration", name))
	case permissions.Allow:
	case permissions.Ask:
		// Read-only tools bypass confirmation; everything else needs an
		// explicit approval recorded before the call runs.
		if !tool.Annotations.ReadOnlyHint && !c.approvals.Approved(call.ID) {
			slog.Debug("Tool call needs confirmation", "tool", name, "call_id", call.ID)
			return errorResult(call, tools.Errorf(tools.ErrorKindNeedsConfirmation, tools.CodeNeedsConfirmation,
				"tool %q requires confirmation; resubmit after approving call %s", name, call.ID))
		}
	}

	sink := sinkFunc(func(line string) {
		emit(ToolOutput(call.ID, line))
	})

	start := time.Now()
	res, err := safeCall(tools.WithSink(ctx, sink), tool, call)
	duration := time.Since(start)

	if err != nil {
		var toolErr *tools.ToolError
		switch {
		case errors.As(err, &toolErr):
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			toolErr = tools.Errorf(tools.ErrorKindCanceled, tools.CodeCanceled,
				"the tool call was canceled")
		default:
			slog.Error("Tool call failed", "tool", name, "call_id", call.ID, "error", err)
			toolErr = tools.Errorf(tools.ErrorKindExecution, tools.CodeExecutionError,
				"error calling tool: %v", err)
		}
		result := errorResult(call, toolErr)
		result.Duration = duration
		return result
	}

	var output string
	if res != nil {
		output = res.Output
	}
	return ExecutionResult{
		CallID:   call.ID,
		Output:   output,
		Duration: duration,
		Cost:     estimateTokens(output),
	}
}

// safeCall invokes the tool handler, converting a panic into an error so
// a misbehaving tool cannot take down the batch or the interaction.
func safeCall(ctx context.Context, tool tools.Tool, call tools.ToolCall) (result *tools.ToolCallResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("Tool handler panicked", "tool", call.Function.Name, "panic", recovered)
			result = nil
			err = tools.Errorf(tools.ErrorKindPanic, tools.CodeInternalPanic,
				"tool %q panicked: %v", call.Function.Name, recovered)
		}
	}()
	if tool.Handler == nil {
		return nil, fmt.Errorf("tool %q has no handler", call.Function.Name)
	}
	return tool.Handler(ctx, call)
}

func (c *Coordinator) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, name, opts...)
}

func errorResult(call tools.ToolCall, toolErr *tools.ToolError) ExecutionResult {
	return ExecutionResult{
		CallID: call.ID,
		Err:    toolErr,
		Cost:   estimateTokens(toolErr.Message),
	}
}

func parseArguments(arguments string) map[string]any {
	var result map[string]any
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return nil
	}
	return result
}

// estimateTokens is the usual rough bytes-to-tokens heuristic.
func estimateTokens(s string) int64 {
	return int64(len(s)+3) / 4
}

type sinkFunc func(line string)

func (f sinkFunc) WriteLine(line string) { f(line) }
