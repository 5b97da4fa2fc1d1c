package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/weftwork/weft/pkg/bus"
	"github.com/weftwork/weft/pkg/cancellation"
	"github.com/weftwork/weft/pkg/config"
	"github.com/weftwork/weft/pkg/environment"
	"github.com/weftwork/weft/pkg/model/provider"
	"github.com/weftwork/weft/pkg/permissions"
	"github.com/weftwork/weft/pkg/runtime"
	"github.com/weftwork/weft/pkg/tasks"
	"github.com/weftwork/weft/pkg/tools"
	"github.com/weftwork/weft/pkg/tools/builtin"
)

const systemPrompt = `You are weft, a coding agent operating in the user's working directory.
Work step by step: inspect before you change, prefer small verifiable
actions, and report what you actually did. Use the shell for anything
the built-in tools do not cover.`

// heartbeatInterval keeps the bus session alive well within the session
// timeout window.
const heartbeatInterval = bus.SessionTimeout / 3

type execFlags struct {
	configPath string
	workingDir string
	yolo       bool
}

func newExecCmd() *cobra.Command {
	var flags execFlags

	cmd := &cobra.Command{
		Use:   "exec <prompt>",
		Short: "Run one interaction and print the streamed result",
		Example: `  weft exec "fix the failing test in pkg/parser"
  weft exec --yolo "run the linter and clean up what it finds"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, flags, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to weft.yaml (default: working directory, then ~/.config/weft)")
	cmd.Flags().StringVarP(&flags.workingDir, "working-dir", "w", "", "Working directory for shell commands (default: current directory)")
	cmd.Flags().BoolVar(&flags.yolo, "yolo", false, "Auto-approve every tool call")

	return cmd
}

func runExec(cmd *cobra.Command, flags execFlags, prompt string) error {
	ctx := cmd.Context()
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	workingDir := flags.workingDir
	if workingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workingDir = wd
		}
	}

	env := environment.NewOsEnvProvider()
	model, err := provider.New(ctx, provider.Config{
		Provider:  cfg.Model.Provider,
		Model:     cfg.Model.Model,
		BaseURL:   cfg.Model.BaseURL,
		MaxTokens: cfg.Model.MaxTokens,
	}, env)
	if err != nil {
		return err
	}

	eventBus, err := bus.Open(cfg.Bus.Path)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	session, resumed, err := eventBus.RegisterSession(ctx, "weft exec", "", workingDir, "")
	if err != nil {
		return err
	}
	slog.Debug("Session registered", "session_id", session.ID, "resumed", resumed)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := eventBus.UnregisterSession(ctx, session.ID); err != nil {
			slog.Warn("Failed to unregister session", "session_id", session.ID, "error", err)
		}
	}()
	go heartbeat(ctx, eventBus, session.ID)

	registry := tasks.NewRegistry(
		tasks.WithNotifier(bus.NewTaskNotifier(eventBus, session.ID)),
		tasks.WithOutputLimit(cfg.Tasks.OutputLimit),
	)

	tracer := otel.Tracer(AppName)
	retry := runtime.RetryPolicy{
		MaxAttempts: cfg.Loop.Retry.MaxAttempts,
		BaseDelay:   cfg.Loop.Retry.BaseDelay,
		MaxDelay:    cfg.Loop.Retry.MaxDelay,
		Multiplier:  cfg.Loop.Retry.Multiplier,
	}

	// Delegated agents reuse the shell and task-query tools but cannot
	// delegate further, and run pre-approved: the parent's call already
	// passed the permission gate.
	subAgentTools, subAgentPrompt, err := collectTools(ctx,
		builtin.NewShellToolSet(registry, workingDir),
		builtin.NewTaskQueryToolSet(registry),
	)
	if err != nil {
		return err
	}
	newSubAgent := func() builtin.SubAgent {
		return &engineSubAgent{cfg: runtime.Config{
			Provider:     model,
			SystemPrompt: subAgentPrompt,
			Tools:        subAgentTools,
			Coordinator: runtime.NewCoordinator(runtime.CoordinatorConfig{
				Tools:       subAgentTools,
				Permissions: permissions.AllowAll(),
				Tracer:      tracer,
			}),
			MaxIterations: cfg.Loop.MaxIterations,
			Retry:         retry,
			ContextLimit:  cfg.Model.ContextWindow,
			Tracer:        tracer,
		}}
	}

	allTools, fullPrompt, err := collectTools(ctx,
		builtin.NewShellToolSet(registry, workingDir),
		builtin.NewTaskQueryToolSet(registry),
		builtin.NewBusQueryToolSet(eventBus),
		builtin.NewTaskToolSet(registry, newSubAgent),
	)
	if err != nil {
		return err
	}

	checker := permissions.NewChecker(&cfg.Permissions)
	approvals := runtime.NewApprovals()
	if flags.yolo {
		checker = permissions.AllowAll()
		approvals.ApproveAll()
	}

	engine := runtime.New(runtime.Config{
		Provider:     model,
		SystemPrompt: fullPrompt,
		Tools:        allTools,
		Coordinator: runtime.NewCoordinator(runtime.CoordinatorConfig{
			Tools:       allTools,
			Permissions: checker,
			Approvals:   approvals,
			Tracer:      tracer,
		}),
		MaxIterations: cfg.Loop.MaxIterations,
		Retry:         retry,
		ContextLimit:  cfg.Model.ContextWindow,
		Tracer:        tracer,
	})

	token := cancellation.NewToken()
	ctx, stop := interruptToken(ctx, token)
	defer stop()

	printer := eventPrinter{stdout: stdout, stderr: stderr}
	for event := range engine.RunStream(ctx, token, prompt) {
		printer.print(event)
	}
	if printer.failed != nil {
		return RuntimeError{Err: printer.failed}
	}
	return nil
}

// engineSubAgent runs one delegated interaction on a fresh engine, so
// each delegation starts with an empty conversation.
type engineSubAgent struct {
	cfg runtime.Config
}

func (s *engineSubAgent) Run(ctx context.Context, token cancellation.Token, prompt string) (string, error) {
	result, err := runtime.New(s.cfg).Run(ctx, token, prompt)
	if err != nil {
		return "", err
	}
	if result.Cancelled {
		return "", errors.New("interaction cancelled")
	}
	return result.Response, nil
}

// collectTools starts the given toolsets, gathers their tool
// definitions, and appends their usage instructions to the base system
// prompt.
func collectTools(ctx context.Context, toolsets ...tools.ToolSet) ([]tools.Tool, string, error) {
	var all []tools.Tool
	promptParts := []string{systemPrompt}

	for _, ts := range toolsets {
		toolset := tools.NewStartable(ts)
		if err := toolset.Start(ctx); err != nil {
			return nil, "", fmt.Errorf("starting toolset: %w", err)
		}
		defs, err := toolset.Tools(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("listing tools: %w", err)
		}
		all = append(all, defs...)
		if instructions := toolset.Instructions(); instructions != "" {
			promptParts = append(promptParts, instructions)
		}
	}
	return all, strings.Join(promptParts, "\n\n"), nil
}

// interruptToken wires Ctrl-C to graceful cancellation: the first
// interrupt cancels the token so the loop stops at its next checkpoint,
// the second cancels the context to abort outright.
func interruptToken(ctx context.Context, token cancellation.Token) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)

	go func() {
		select {
		case <-sigs:
			token.Cancel()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

// heartbeat keeps the bus session registered while the interaction
// runs.
func heartbeat(ctx context.Context, b *bus.Bus, sessionID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := b.Heartbeat(ctx, sessionID); err != nil || !ok {
				slog.Warn("Session heartbeat lost", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}

// eventPrinter renders the interaction's event stream as terminal text:
// assistant deltas verbatim on stdout, everything else as bracketed
// status lines.
type eventPrinter struct {
	stdout io.Writer
	stderr io.Writer

	midLine bool
	failed  error
}

func (p *eventPrinter) print(event runtime.Event) {
	switch ev := event.(type) {
	case *runtime.TextDeltaEvent:
		fmt.Fprint(p.stdout, ev.Content)
		p.midLine = !strings.HasSuffix(ev.Content, "\n")
	case *runtime.ToolBatchEvent:
		p.breakLine()
		for _, call := range ev.Calls {
			fmt.Fprintf(p.stdout, "[%s %s]\n", call.Function.Name, truncate(call.Function.Arguments, 120))
		}
	case *runtime.ToolOutputEvent:
		p.breakLine()
		fmt.Fprintf(p.stdout, "  %s\n", ev.Line)
	case *runtime.ToolResultEvent:
		p.breakLine()
		if ev.Result.IsError() {
			fmt.Fprintf(p.stdout, "[%s failed: %s]\n", ev.Call.Function.Name, truncate(ev.Result.Content(), 200))
		} else {
			fmt.Fprintf(p.stdout, "[%s done in %s]\n", ev.Call.Function.Name, ev.Result.Duration.Round(time.Millisecond))
		}
	case *runtime.RetryEvent:
		p.breakLine()
		fmt.Fprintf(p.stderr, "[%s: retrying in %ds (attempt %d/%d)]\n",
			ev.Cause, int(ev.Delay.Seconds()), ev.Attempt, ev.MaxAttempts)
	case *runtime.ContextWarningEvent:
		p.breakLine()
		fmt.Fprintf(p.stderr, "[context window %.0f%% full: %d of %d tokens]\n",
			ev.Ratio*100, ev.Used, ev.Limit)
	case *runtime.CancelledEvent:
		p.breakLine()
		fmt.Fprintln(p.stderr, "[cancelled]")
	case *runtime.InteractionCompleteEvent:
		p.breakLine()
		slog.Debug("Interaction complete",
			"interaction_id", ev.InteractionID,
			"input_tokens", ev.Usage.InputTokens,
			"output_tokens", ev.Usage.OutputTokens)
	case *runtime.ErrorEvent:
		p.breakLine()
		fmt.Fprintf(p.stderr, "Error: %s\n", ev.Error)
		p.failed = errors.New(ev.Error)
	}
}

func (p *eventPrinter) breakLine() {
	if p.midLine {
		fmt.Fprintln(p.stdout)
		p.midLine = false
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
