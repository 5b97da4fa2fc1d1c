// Package builtin provides the toolsets shipped with the runtime: shell
// execution, background task queries, and sub-agent delegation.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/weftwork/weft/pkg/tasks"
	"github.com/weftwork/weft/pkg/tools"
)

// DefaultShellTimeout bounds foreground shell commands that do not ask
// for a longer one.
const DefaultShellTimeout = 30 * time.Second

// ShellToolSet runs commands through the user's shell. Foreground runs
// stream output and block until exit; background runs are handed to the
// task registry and return a task identifier immediately.
type ShellToolSet struct {
	registry   *tasks.Registry
	shell      string
	workingDir string
	env        []string
}

var _ tools.ToolSet = (*ShellToolSet)(nil)

func NewShellToolSet(registry *tasks.Registry, workingDir string) *ShellToolSet {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ShellToolSet{
		registry:   registry,
		shell:      shell,
		workingDir: workingDir,
		env:        os.Environ(),
	}
}

type ShellArgs struct {
	Command    string `json:"command" jsonschema:"The shell command to execute"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Working directory for the command; defaults to the session working directory"`
	Timeout    int    `json:"timeout,omitempty" jsonschema:"Timeout in seconds for foreground runs; default 30"`
	Background bool   `json:"background,omitempty" jsonschema:"Run detached as a background task and return a task_id immediately"`
}

// backgroundStarted is the immediate response of a background spawn.
type backgroundStarted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (t *ShellToolSet) runShell(ctx context.Context, toolCall tools.ToolCall) (*tools.ToolCallResult, error) {
	var args ShellArgs
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "invalid shell arguments: %v", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return nil, tools.Errorf(tools.ErrorKindInvalidArguments, tools.CodeInvalidArguments, "command must not be empty")
	}

	if args.Background {
		return t.spawnBackground(args)
	}
	return t.runForeground(ctx, args)
}

func (t *ShellToolSet) runForeground(ctx context.Context, args ShellArgs) (*tools.ToolCallResult, error) {
	timeout := DefaultShellTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	writer := &lineWriter{sink: tools.SinkFrom(ctx)}
	cmd := t.command(ctx, args.Command, args.WorkingDir)
	cmd.Stdout = writer
	cmd.Stderr = writer

	err := cmd.Run()
	writer.flush()
	output := writer.String()

	if ctx.Err() == context.DeadlineExceeded {
		return &tools.ToolCallResult{
			Output: fmt.Sprintf("%s\n(command timed out after %s and was killed)", output, timeout),
		}, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		output = fmt.Sprintf("%s\n(exit status %d)", output, exitErr.ExitCode())
	case err != nil:
		return &tools.ToolCallResult{Output: fmt.Sprintf("failed to run command: %v", err)}, nil
	}

	if strings.TrimSpace(output) == "" {
		output = "(no output)"
	}
	return &tools.ToolCallResult{Output: output}, nil
}

func (t *ShellToolSet) spawnBackground(args ShellArgs) (*tools.ToolCallResult, error) {
	command, workingDir := args.Command, args.WorkingDir

	id := t.registry.Spawn(tasks.KindShell, func(ctx context.Context, h *tasks.Handle) {
		cmd := t.command(ctx, command, workingDir)
		writer := handleWriter{h: h}
		cmd.Stdout = writer
		cmd.Stderr = writer

		if err := cmd.Start(); err != nil {
			h.Fail(fmt.Sprintf("failed to start command: %v", err))
			return
		}
		err := cmd.Wait()

		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			h.Complete(exitErr.ExitCode())
		case err != nil:
			h.Fail(err.Error())
		default:
			h.Complete(0)
		}
	})

	payload, err := json.Marshal(backgroundStarted{TaskID: id, Status: string(tasks.StatusRunning)})
	if err != nil {
		return nil, err
	}
	return &tools.ToolCallResult{Output: string(payload)}, nil
}

// command builds the shell invocation with process-group isolation so a
// kill takes the whole tree down, not just the shell.
func (t *ShellToolSet) command(ctx context.Context, command, workingDir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, t.shell, "-c", command)
	cmd.Env = t.env
	cmd.Dir = workingDir
	if cmd.Dir == "" {
		cmd.Dir = t.workingDir
	}
	configureProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessTree(cmd.Process)
		return nil
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

func (t *ShellToolSet) Instructions() string {
	return `## Shell

Run shell commands with the "shell" tool. Each call is a fresh shell
session; no state persists between calls. Use "working_dir" to run a
command somewhere other than the session working directory.

Foreground calls block until the command exits (default timeout 30s,
override with "timeout"). For long-running commands (servers, watchers,
builds you want to keep an eye on), pass "background": true; the call
returns a task_id immediately, and "task_output" retrieves the output
later.`
}

func (t *ShellToolSet) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        "shell",
			Category:    "shell",
			Description: "Executes a shell command in the user's default shell, foreground or background.",
			Parameters:  tools.MustSchemaFor[ShellArgs](),
			Handler:     t.runShell,
			Annotations: tools.ToolAnnotations{
				Title:           "Run Shell Command",
				DestructiveHint: true,
				ExclusiveHint:   true,
				BackgroundHint:  true,
			},
		},
	}, nil
}

func (t *ShellToolSet) Start(context.Context) error { return nil }
func (t *ShellToolSet) Stop() error                 { return nil }

// lineWriter buffers combined command output and forwards completed
// lines to the tool output sink as they appear.
type lineWriter struct {
	mu      sync.Mutex
	sink    tools.OutputSink
	buf     strings.Builder
	pending strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for _, b := range p {
		if b == '\n' {
			w.sink.WriteLine(w.pending.String())
			w.pending.Reset()
		} else {
			w.pending.WriteByte(b)
		}
	}
	return len(p), nil
}

// flush emits a trailing unterminated line, if any.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Len() > 0 {
		w.sink.WriteLine(w.pending.String())
		w.pending.Reset()
	}
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimRight(w.buf.String(), "\n")
}

// handleWriter streams process output into a background task's bounded
// buffer.
type handleWriter struct {
	h *tasks.Handle
}

func (w handleWriter) Write(p []byte) (int, error) {
	w.h.Append(string(p))
	return len(p), nil
}
