package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/chat"
)

func TestEmitterDropsInsteadOfBlockingWhenConsumerStalls(t *testing.T) {
	em := newEmitter()

	// Nobody drains the channel; everything past the buffer capacity
	// must be dropped, never queued against a stalled consumer.
	const overflow = 10
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range eventBuffer + overflow {
			em.emit(TextDelta("chunk"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full outbound buffer")
	}
	assert.Equal(t, int64(overflow), em.Dropped())

	// Once the consumer drains, the terminal event still arrives: the
	// blocking final send finds the space the drain freed.
	<-em.ch
	em.emitFinal(InteractionComplete("", "done", chat.Usage{}))
	em.close()

	var last Event
	count := 0
	for ev := range em.ch {
		last = ev
		count++
	}
	assert.Equal(t, eventBuffer, count)

	terminal, ok := last.(*InteractionCompleteEvent)
	require.True(t, ok, "last delivered event must be the terminal one")
	assert.Equal(t, "done", terminal.Response)
}

func TestEmitterNothingDroppedWhileBufferHasRoom(t *testing.T) {
	em := newEmitter()

	for range eventBuffer {
		em.emit(TextDelta("chunk"))
	}

	assert.Equal(t, int64(0), em.Dropped())
}
