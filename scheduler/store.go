package scheduler

import (
	"container/heap"
	"time"

	"github.com/pithecene-io/workernode/types"
)

// Store persists the scheduler's queue document at shutdown and reloads it
// at startup, per spec §4.3/§6. Two implementations are provided: FileStore
// (default JSON file) and RedisStore (optional shared backend).
type Store interface {
	Save(doc types.PersistedQueueDocument) error
	Load() (types.PersistedQueueDocument, error)
}

// Persist serializes the queue and aggregate counters via store.
func (s *Scheduler) Persist(store Store) error {
	s.mu.Lock()
	tasks := make([]types.QueuedItem, len(s.h))
	for i, it := range s.h {
		tasks[i] = it.qi
	}
	doc := types.PersistedQueueDocument{
		Version: 1,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		Tasks:   tasks,
		Stats: types.PersistedStats{
			TotalEnqueued: s.totalEnqueued,
			TotalDequeued: s.totalDequeued,
			DroppedCount:  s.droppedCount,
		},
	}
	s.mu.Unlock()

	return store.Save(doc)
}

// Restore reloads a previously persisted queue document, skipping any
// run_id already present, and preserving each item's original enqueue_time
// and priority (spec §4.3 invariant: restored items retain original
// ordering keys).
func (s *Scheduler) Restore(store Store) error {
	doc, err := store.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qi := range doc.Tasks {
		if _, exists := s.byRunID[qi.RunID]; exists {
			continue
		}
		it := &item{qi: qi}
		heap.Push(&s.h, it)
		s.byRunID[qi.RunID] = it
	}
	s.totalEnqueued = doc.Stats.TotalEnqueued
	s.totalDequeued = doc.Stats.TotalDequeued
	s.droppedCount = doc.Stats.DroppedCount
	s.broadcastLocked()
	return nil
}
