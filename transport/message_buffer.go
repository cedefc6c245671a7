package transport

import (
	"sync"

	"github.com/pithecene-io/workernode/types"
)

// DefaultBufferCapacity is the bounded buffer's drop-oldest threshold,
// per spec §4.2.
const DefaultBufferCapacity = 1000

// MessageBuffer holds outbound log/status messages while the resilience
// wrapper is disconnected. Bounded FIFO with drop-oldest eviction once full.
type MessageBuffer struct {
	mu       sync.Mutex
	items    []types.BufferedMessage
	capacity int
	dropped  int64
}

// NewMessageBuffer creates a buffer with the given capacity (DefaultBufferCapacity
// when capacity <= 0).
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &MessageBuffer{capacity: capacity}
}

// Push appends msg, dropping the oldest entry first if the buffer is full.
// Returns true if an entry was dropped to make room.
func (b *MessageBuffer) Push(msg types.BufferedMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := false
	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
		b.dropped++
		dropped = true
	}
	b.items = append(b.items, msg)
	return dropped
}

// PushFront re-queues msg at the head, used to re-buffer a replay failure
// ahead of anything buffered since.
func (b *MessageBuffer) PushFront(msgs []types.BufferedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(msgs, b.items...)
	for len(b.items) > b.capacity {
		b.items = b.items[1:]
		b.dropped++
	}
}

// DrainAll removes and returns every buffered message in FIFO order.
func (b *MessageBuffer) DrainAll() []types.BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

// Len returns the current buffered count.
func (b *MessageBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the cumulative drop-oldest count.
func (b *MessageBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
