package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weftwork/weft/pkg/cancellation"
	"github.com/weftwork/weft/pkg/chat"
	"github.com/weftwork/weft/pkg/model/provider"
	"github.com/weftwork/weft/pkg/tools"
)

// DefaultMaxIterations caps model turns per interaction so a model stuck
// requesting tools cannot loop forever.
const DefaultMaxIterations = 100

// contextWarnRatio is the context-window usage threshold above which a
// warning event fires.
const contextWarnRatio = 0.80

// errCancelled propagates a token cancellation out of a turn. It never
// leaves the engine; the loop converts it into a CancelledEvent.
var errCancelled = errors.New("interaction cancelled")

// Config assembles an Engine. Provider and Tools are required; everything
// else has a usable zero value.
type Config struct {
	Provider provider.Provider

	// SystemPrompt is prepended to the history on the first run.
	SystemPrompt string

	// Tools are the capabilities offered to the model each turn.
	Tools []tools.Tool

	// Coordinator executes tool batches. Nil builds one from Tools with
	// default permissions.
	Coordinator *Coordinator

	// MaxIterations caps model turns per interaction; 0 means the default.
	MaxIterations int

	// Retry bounds transport retries; the zero value means the default
	// policy.
	Retry RetryPolicy

	// ContextLimit is the model's context window in tokens. 0 disables
	// context warnings.
	ContextLimit int64

	Tracer trace.Tracer
}

// Result is the terminal outcome of a completed interaction.
type Result struct {
	InteractionID string
	Response      string
	Usage         chat.Usage
	Cancelled     bool
}

// Engine runs interactions: stream a model turn, execute the requested
// tools, feed results back, repeat until the model answers in plain text.
// An Engine is single-flight; concurrent RunStream calls on one Engine
// are not supported. History persists across runs, so a second prompt
// continues the same conversation.
type Engine struct {
	provider      provider.Provider
	coordinator   *Coordinator
	toolDefs      []tools.Tool
	maxIterations int
	retry         RetryPolicy
	contextLimit  int64
	tracer        trace.Tracer

	history      []chat.Message
	totalUsage   chat.Usage
	warningArmed bool
}

func New(cfg Config) *Engine {
	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator = NewCoordinator(CoordinatorConfig{Tools: cfg.Tools, Tracer: cfg.Tracer})
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	e := &Engine{
		provider:      cfg.Provider,
		coordinator:   coordinator,
		toolDefs:      cfg.Tools,
		maxIterations: maxIterations,
		retry:         retry,
		contextLimit:  cfg.ContextLimit,
		tracer:        cfg.Tracer,
		warningArmed:  true,
	}
	if cfg.SystemPrompt != "" {
		e.history = append(e.history, chat.NewSystemMessage(cfg.SystemPrompt))
	}
	return e
}

// History returns a snapshot of the conversation so far.
func (e *Engine) History() []chat.Message {
	out := make([]chat.Message, len(e.history))
	copy(out, e.history)
	return out
}

// Usage returns the tokens accumulated across all runs of this engine.
func (e *Engine) Usage() chat.Usage {
	return e.totalUsage
}

// RunStream starts an interaction for prompt and returns its outbound
// event channel. The channel is closed after exactly one terminal event
// (InteractionComplete, Cancelled, or Error). Intermediate events are
// delivered best-effort: a consumer that stops draining loses events,
// never stalls the loop.
func (e *Engine) RunStream(ctx context.Context, token cancellation.Token, prompt string) <-chan Event {
	em := newEmitter()
	go func() {
		defer em.close()
		e.run(ctx, token, prompt, em)
	}()
	return em.ch
}

// Run drives an interaction to completion, discarding intermediate
// events. Cancellation is reported in the Result, not as an error.
func (e *Engine) Run(ctx context.Context, token cancellation.Token, prompt string) (Result, error) {
	var result Result
	var runErr error
	for ev := range e.RunStream(ctx, token, prompt) {
		switch ev := ev.(type) {
		case *InteractionCompleteEvent:
			result = Result{InteractionID: ev.InteractionID, Response: ev.Response, Usage: ev.Usage}
		case *CancelledEvent:
			result = Result{Usage: e.totalUsage, Cancelled: true}
		case *ErrorEvent:
			runErr = errors.New(ev.Error)
		}
	}
	return result, runErr
}

func (e *Engine) run(ctx context.Context, token cancellation.Token, prompt string, em *emitter) {
	ctx, span := e.startSpan(ctx, "runtime.interaction")
	defer span.End()

	e.history = append(e.history, chat.NewUserMessage(prompt))

	var interactionID string
	var runUsage chat.Usage

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		if token.Cancelled() {
			em.emitFinal(Cancelled())
			return
		}

		turn, err := e.streamTurn(ctx, token, em)
		if err != nil {
			if errors.Is(err, errCancelled) {
				em.emitFinal(Cancelled())
				return
			}
			slog.Error("Model turn failed", "iteration", iteration, "error", err)
			em.emitFinal(Error(err.Error()))
			return
		}

		if turn.interactionID != "" {
			interactionID = turn.interactionID
		}
		runUsage.Add(&turn.usage)
		e.totalUsage.Add(&turn.usage)
		e.checkContextUsage(&turn.usage, em)

		e.history = append(e.history, chat.NewAssistantMessage(turn.content, turn.calls))

		if len(turn.calls) == 0 {
			span.SetAttributes(attribute.Int("interaction.iterations", iteration+1))
			em.emitFinal(InteractionComplete(interactionID, turn.content, runUsage))
			return
		}

		if token.Cancelled() {
			em.emitFinal(Cancelled())
			return
		}

		em.emit(ToolBatch(turn.calls))
		results := e.coordinator.Execute(ctx, turn.calls, em.emit)
		for _, result := range results {
			e.history = append(e.history, chat.NewToolResultMessage(result.CallID, result.Content(), result.IsError()))
		}
	}

	em.emitFinal(Error(fmt.Sprintf("interaction exceeded %d iterations without completing", e.maxIterations)))
}

// turnResult is the merged outcome of one streamed model turn.
type turnResult struct {
	interactionID string
	content       string
	calls         []tools.ToolCall
	usage         chat.Usage
}

// streamTurn performs one model call, retrying transient transport
// failures under the retry policy. The initial attempt is free; each of
// the MaxAttempts retries is announced with a RetryEvent before its
// backoff delay.
func (e *Engine) streamTurn(ctx context.Context, token cancellation.Token, em *emitter) (*turnResult, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := e.retry.Delay(attempt)
			em.emit(Retry(attempt, e.retry.MaxAttempts, delay, lastErr))
			slog.Warn("Retrying model call after transient failure",
				"attempt", attempt, "max_attempts", e.retry.MaxAttempts, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errCancelled
			}
			if token.Cancelled() {
				return nil, errCancelled
			}
		}

		turn, err := e.attemptTurn(ctx, token, em)
		if err == nil {
			return turn, nil
		}
		if errors.Is(err, errCancelled) {
			return nil, err
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt >= e.retry.MaxAttempts {
			return nil, fmt.Errorf("%w after %d retries: %v", ErrMaxAttempts, e.retry.MaxAttempts, lastErr)
		}
	}
}

func (e *Engine) attemptTurn(ctx context.Context, token cancellation.Token, em *emitter) (*turnResult, error) {
	if token.Cancelled() {
		return nil, errCancelled
	}

	stream, err := e.provider.CreateChatCompletionStream(ctx, e.history, e.toolDefs)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var acc turnAccumulator
	for {
		if token.Cancelled() {
			return nil, errCancelled
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		acc.add(chunk, em)
	}
	return acc.result(), nil
}

// turnAccumulator merges stream chunks into one turn. Tool-call argument
// fragments are matched to their call by ID when the provider repeats it,
// or by Index when it does not.
type turnAccumulator struct {
	interactionID string
	content       strings.Builder
	calls         []tools.ToolCall
	usage         chat.Usage
}

func (a *turnAccumulator) add(chunk chat.MessageStreamResponse, em *emitter) {
	if chunk.ID != "" {
		a.interactionID = chunk.ID
	}
	if chunk.Usage != nil {
		a.usage.Add(chunk.Usage)
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			a.content.WriteString(choice.Delta.Content)
			em.emit(TextDelta(choice.Delta.Content))
		}
		for _, fragment := range choice.Delta.ToolCalls {
			a.mergeFragment(fragment)
		}
	}
}

func (a *turnAccumulator) mergeFragment(fragment tools.ToolCall) {
	if existing := a.find(fragment); existing != nil {
		if fragment.Function.Name != "" {
			existing.Function.Name = fragment.Function.Name
		}
		existing.Function.Arguments += fragment.Function.Arguments
		return
	}
	a.calls = append(a.calls, fragment)
}

func (a *turnAccumulator) find(fragment tools.ToolCall) *tools.ToolCall {
	for i := range a.calls {
		call := &a.calls[i]
		if fragment.ID != "" && call.ID == fragment.ID {
			return call
		}
		if fragment.ID == "" && fragment.Index != nil && call.Index != nil && *call.Index == *fragment.Index {
			return call
		}
	}
	return nil
}

func (a *turnAccumulator) result() *turnResult {
	return &turnResult{
		interactionID: a.interactionID,
		content:       a.content.String(),
		calls:         a.calls,
		usage:         a.usage,
	}
}

// checkContextUsage fires one ContextWarningEvent when the last turn's
// context occupancy crosses the threshold. The warning re-arms only after
// usage drops back to the threshold or below, so a long tail of turns
// above it warns once, not every turn.
func (e *Engine) checkContextUsage(usage *chat.Usage, em *emitter) {
	if e.contextLimit <= 0 {
		return
	}
	used := usage.ContextTokens()
	over := float64(used) > contextWarnRatio*float64(e.contextLimit)
	switch {
	case over && e.warningArmed:
		e.warningArmed = false
		em.emit(ContextWarning(used, e.contextLimit))
	case !over:
		e.warningArmed = true
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.Start(ctx, name, opts...)
}
