package tasks

import (
	"fmt"
	"strings"
	"sync"
)

// outputBuffer accumulates task output up to a byte limit. Once full it
// keeps the head and counts the rest, so a runaway process cannot exhaust
// memory; readers see a truncation marker with the true total size.
type outputBuffer struct {
	mu    sync.Mutex
	limit int
	buf   strings.Builder
	total int
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) Append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += len(s)
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(s) > remaining {
			s = s[:remaining]
		}
		b.buf.WriteString(s)
	}
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total <= b.limit {
		return b.buf.String()
	}
	return fmt.Sprintf("%s\n... [truncated, %d bytes total]", b.buf.String(), b.total)
}
