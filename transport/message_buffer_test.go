package transport

import (
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestMessageBufferDropsOldestAtCapacity(t *testing.T) {
	buf := NewMessageBuffer(2)
	buf.Push(types.BufferedMessage{Kind: types.BufferedTaskStatus, Timestamp: 1})
	buf.Push(types.BufferedMessage{Kind: types.BufferedTaskStatus, Timestamp: 2})
	dropped := buf.Push(types.BufferedMessage{Kind: types.BufferedTaskStatus, Timestamp: 3})
	if !dropped {
		t.Fatal("expected drop signal once over capacity")
	}
	if buf.Dropped() != 1 {
		t.Fatalf("expected dropped count 1, got %d", buf.Dropped())
	}

	items := buf.DrainAll()
	if len(items) != 2 {
		t.Fatalf("expected 2 surviving items, got %d", len(items))
	}
	if items[0].Timestamp != 2 || items[1].Timestamp != 3 {
		t.Fatalf("expected oldest-dropped FIFO order [2,3], got %+v", items)
	}
}

func TestMessageBufferPushFrontReordersAheadOfNewArrivals(t *testing.T) {
	buf := NewMessageBuffer(10)
	buf.Push(types.BufferedMessage{Timestamp: 2})
	buf.PushFront([]types.BufferedMessage{{Timestamp: 1}})

	items := buf.DrainAll()
	if len(items) != 2 || items[0].Timestamp != 1 || items[1].Timestamp != 2 {
		t.Fatalf("expected replay-failed item ahead of newer arrivals, got %+v", items)
	}
}

func TestMessageBufferDrainAllEmptiesBuffer(t *testing.T) {
	buf := NewMessageBuffer(10)
	buf.Push(types.BufferedMessage{Timestamp: 1})
	buf.DrainAll()
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got len %d", buf.Len())
	}
}
