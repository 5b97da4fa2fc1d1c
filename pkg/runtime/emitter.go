package runtime

import (
	"log/slog"
	"sync/atomic"
)

// eventBuffer is the outbound channel capacity per interaction.
const eventBuffer = 256

// emitter delivers events to the outbound channel without ever blocking
// the interaction loop: a consumer that stops draining costs events, not
// tool execution. Drops are counted and logged, never silent.
type emitter struct {
	ch      chan Event
	dropped atomic.Int64
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan Event, eventBuffer)}
}

func (e *emitter) emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
		n := e.dropped.Add(1)
		slog.Warn("Outbound event buffer full, dropping event", "dropped_total", n)
	}
}

// emitFinal delivers a terminal event with a blocking send. At terminal
// time the loop has no further work a slow consumer could stall.
func (e *emitter) emitFinal(ev Event) {
	e.ch <- ev
}

func (e *emitter) close() {
	close(e.ch)
}

// Dropped returns how many events were discarded because the consumer
// fell behind.
func (e *emitter) Dropped() int64 {
	return e.dropped.Load()
}
