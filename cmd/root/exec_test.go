package root

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/runtime"
	"github.com/weftwork/weft/pkg/tools"
)

func newTestPrinter() (*eventPrinter, *strings.Builder, *strings.Builder) {
	var stdout, stderr strings.Builder
	return &eventPrinter{stdout: &stdout, stderr: &stderr}, &stdout, &stderr
}

func TestPrinterStreamsDeltasVerbatim(t *testing.T) {
	p, stdout, _ := newTestPrinter()

	p.print(runtime.TextDelta("Hello, "))
	p.print(runtime.TextDelta("world"))

	assert.Equal(t, "Hello, world", stdout.String())
}

func TestPrinterBreaksLineBeforeStatus(t *testing.T) {
	p, stdout, _ := newTestPrinter()

	p.print(runtime.TextDelta("working on it"))
	p.print(runtime.ToolBatch([]tools.ToolCall{
		{ID: "call_1", Function: tools.FunctionCall{Name: "shell", Arguments: `{"command":"ls"}`}},
	}))

	assert.Equal(t, "working on it\n[shell {\"command\":\"ls\"}]\n", stdout.String())
}

func TestPrinterRetryNotice(t *testing.T) {
	p, _, stderr := newTestPrinter()

	p.print(runtime.Retry(2, 5, 4*time.Second, errors.New("overloaded: 529")))

	assert.Equal(t, "[overloaded: 529: retrying in 4s (attempt 2/5)]\n", stderr.String())
}

func TestPrinterErrorRecordedAsFailure(t *testing.T) {
	p, _, stderr := newTestPrinter()

	p.print(runtime.Error("interaction exceeded 100 iterations without completing"))

	require.Error(t, p.failed)
	assert.Contains(t, stderr.String(), "Error: interaction exceeded")
}

func TestPrinterToolResultSummaries(t *testing.T) {
	p, stdout, _ := newTestPrinter()
	call := tools.ToolCall{ID: "call_1", Function: tools.FunctionCall{Name: "shell"}}

	p.print(runtime.ToolResult(call, runtime.ExecutionResult{CallID: "call_1", Output: "ok", Duration: 120 * time.Millisecond}))
	p.print(runtime.ToolResult(call, runtime.ExecutionResult{
		CallID: "call_1",
		Err:    tools.Errorf(tools.ErrorKindNotFound, tools.CodeNotFound, "task shell:abc not found"),
	}))

	out := stdout.String()
	assert.Contains(t, out, "[shell done in 120ms]")
	assert.Contains(t, out, "[shell failed: not_found: task shell:abc not found]")
}

func TestTruncateCapsLongArguments(t *testing.T) {
	long := strings.Repeat("x", 300)
	assert.Equal(t, strings.Repeat("x", 120)+"...", truncate(long, 120))
	assert.Equal(t, "short", truncate("short", 120))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	assert.Equal(t, "single", firstLine("single"))
}

func TestVersionCommandPrints(t *testing.T) {
	cmd := NewRootCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "dev\n", out.String())
}
