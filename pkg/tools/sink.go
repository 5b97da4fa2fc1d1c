package tools

import "context"

// OutputSink receives progress lines a tool emits while it is still
// running. It is write-only: tools push lines, the coordinator forwards
// them as raw output events immediately rather than buffering them until
// the call finishes.
type OutputSink interface {
	WriteLine(line string)
}

type contextKey string

const sinkContextKey contextKey = "tool_output_sink"

// WithSink attaches an output sink to the context handed to a tool call.
func WithSink(ctx context.Context, sink OutputSink) context.Context {
	return context.WithValue(ctx, sinkContextKey, sink)
}

// SinkFrom retrieves the output sink from the context. It never returns
// nil; without an attached sink, lines are discarded.
func SinkFrom(ctx context.Context) OutputSink {
	if sink, ok := ctx.Value(sinkContextKey).(OutputSink); ok && sink != nil {
		return sink
	}
	return discardSink{}
}

type discardSink struct{}

func (discardSink) WriteLine(string) {}
