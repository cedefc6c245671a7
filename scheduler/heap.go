package scheduler

import (
	"container/heap"

	"github.com/pithecene-io/workernode/types"
)

// item wraps a QueuedItem with the bookkeeping container/heap needs: a
// heap index for O(log n) removal/reinsertion, kept out of types.QueuedItem
// since that type is also the wire/persistence shape.
type item struct {
	qi    types.QueuedItem
	index int
}

// priorityHeap orders items by (priority ASC, enqueue_time ASC), giving a
// total order consistent with spec §4.3's dequeue contract. No pack example
// vendors a priority-queue library, so this uses container/heap directly —
// see DESIGN.md's stdlib justification.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].qi.Priority != h[j].qi.Priority {
		return h[i].qi.Priority < h[j].qi.Priority
	}
	return h[i].qi.EnqueueTime < h[j].qi.EnqueueTime
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

var _ heap.Interface = (*priorityHeap)(nil)
