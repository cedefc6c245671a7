// Package scheduler implements the bounded priority queue of pending runs
// described in spec §4.3: a heap ordered by (priority ASC, enqueue_time
// ASC), with enqueue/dequeue/cancel/priority-update and optional
// crash-recoverable persistence.
package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/workernode/metrics"
	"github.com/pithecene-io/workernode/types"
)

// ErrNotFound is returned by operations targeting a run_id that is not
// currently queued.
var ErrNotFound = errors.New("scheduler: run_id not found")

// Scheduler is a bounded priority queue keyed by run_id.
type Scheduler struct {
	mu       sync.Mutex
	h        priorityHeap
	byRunID  map[string]*item
	maxSize  int
	notifyCh chan struct{}

	totalEnqueued int64
	totalDequeued int64
	droppedCount  int64

	coll *metrics.Collector
}

// New creates a Scheduler with the given capacity. maxSize <= 0 means the
// scheduler accepts no new work until UpdateMaxSize raises it above zero,
// matching spec §8's max_concurrent=0 boundary behavior.
func New(maxSize int, coll *metrics.Collector) *Scheduler {
	return &Scheduler{
		h:        make(priorityHeap, 0),
		byRunID:  make(map[string]*item),
		maxSize:  maxSize,
		notifyCh: make(chan struct{}),
		coll:     coll,
	}
}

// Enqueue adds a run to the queue. Returns false if run_id is already
// present or the queue is at capacity; on the full-queue case the dropped
// counter increments and no waiter is signaled (spec §8).
func (s *Scheduler) Enqueue(runID string, data any, priority int, projectID, projectType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRunID[runID]; exists {
		return false
	}
	if s.maxSize <= 0 || len(s.h) >= s.maxSize {
		s.droppedCount++
		s.coll.IncSchedulerDropped()
		return false
	}

	it := &item{qi: types.QueuedItem{
		RunID:       runID,
		Priority:    priority,
		EnqueueTime: time.Now().UnixMicro(),
		ProjectID:   projectID,
		ProjectType: projectType,
		Data:        data,
	}}
	heap.Push(&s.h, it)
	s.byRunID[runID] = it
	s.totalEnqueued++
	s.coll.IncSchedulerEnqueued()
	s.broadcastLocked()
	return true
}

// Dequeue blocks until an item is available or timeout elapses, returning
// (item, true) or (nil, false).
func (s *Scheduler) Dequeue(timeout time.Duration) (*types.QueuedItem, bool) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if len(s.h) > 0 {
			it := heap.Pop(&s.h).(*item)
			delete(s.byRunID, it.qi.RunID)
			s.totalDequeued++
			s.coll.IncSchedulerDequeued()
			s.mu.Unlock()
			qi := it.qi
			return &qi, true
		}
		ch := s.notifyCh
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return nil, false
		}
	}
}

// Cancel removes the item if present. Used by the cancel path when the run
// is still queued.
func (s *Scheduler) Cancel(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(runID)
}

func (s *Scheduler) removeLocked(runID string) bool {
	it, ok := s.byRunID[runID]
	if !ok {
		return false
	}
	heap.Remove(&s.h, it.index)
	delete(s.byRunID, runID)
	return true
}

// Contains reports whether run_id is currently queued.
func (s *Scheduler) Contains(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byRunID[runID]
	return ok
}

// UpdatePriority removes and reinserts the item under a new priority,
// preserving its original enqueue_time so FIFO semantics hold within the
// new priority class. Returns the item's new heap index, or -1 if not
// found.
func (s *Scheduler) UpdatePriority(runID string, newPriority int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.byRunID[runID]
	if !ok {
		return -1
	}
	heap.Remove(&s.h, it.index)
	it.qi.Priority = newPriority
	heap.Push(&s.h, it)
	s.broadcastLocked()
	return it.index
}

// UpdateMaxSize adjusts capacity for dynamic concurrency resize.
func (s *Scheduler) UpdateMaxSize(newMax int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSize = newMax
}

// Len returns the current queue depth.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	TotalEnqueued int64
	TotalDequeued int64
	DroppedCount  int64
	Depth         int
}

// SnapshotStats returns a copy of the scheduler's counters.
func (s *Scheduler) SnapshotStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalEnqueued: s.totalEnqueued,
		TotalDequeued: s.totalDequeued,
		DroppedCount:  s.droppedCount,
		Depth:         len(s.h),
	}
}

// PriorityHistogram returns the current queue depth broken down by
// priority level, for the status/debug surface.
func (s *Scheduler) PriorityHistogram() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make(map[int]int)
	for _, it := range s.h {
		hist[it.qi.Priority]++
	}
	return hist
}

// broadcastLocked wakes every Dequeue waiter. Caller must hold mu.
func (s *Scheduler) broadcastLocked() {
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
}
