package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestDequeueOrderIsPriorityThenFIFO(t *testing.T) {
	s := New(10, nil)
	s.Enqueue("low", nil, 3, "", "")
	s.Enqueue("high", nil, 0, "", "")
	s.Enqueue("mid-a", nil, 1, "", "")
	s.Enqueue("mid-b", nil, 1, "", "")

	want := []string{"high", "mid-a", "mid-b", "low"}
	for _, w := range want {
		it, ok := s.Dequeue(time.Second)
		if !ok || it.RunID != w {
			t.Fatalf("expected %q next, got %+v (ok=%v)", w, it, ok)
		}
	}
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	s := New(10, nil)
	if !s.Enqueue("r1", nil, 1, "", "") {
		t.Fatal("first enqueue should succeed")
	}
	if s.Enqueue("r1", nil, 1, "", "") {
		t.Fatal("duplicate run_id should be rejected")
	}
}

func TestEnqueueFullQueueRejected(t *testing.T) {
	s := New(1, nil)
	if !s.Enqueue("r1", nil, 1, "", "") {
		t.Fatal("first enqueue should succeed")
	}
	if s.Enqueue("r2", nil, 1, "", "") {
		t.Fatal("enqueue into a full queue should be rejected")
	}
	if got := s.SnapshotStats().DroppedCount; got != 1 {
		t.Fatalf("expected dropped count 1, got %d", got)
	}
}

func TestDequeueTimeoutWhenEmpty(t *testing.T) {
	s := New(10, nil)
	start := time.Now()
	_, ok := s.Dequeue(50 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestCancelRemovesQueuedItem(t *testing.T) {
	s := New(10, nil)
	s.Enqueue("r1", nil, 1, "", "")
	if !s.Contains("r1") {
		t.Fatal("expected r1 to be queued")
	}
	if !s.Cancel("r1") {
		t.Fatal("cancel should succeed for a queued item")
	}
	if s.Contains("r1") {
		t.Fatal("r1 should no longer be queued")
	}
	if s.Cancel("r1") {
		t.Fatal("second cancel should be a no-op returning false")
	}
}

func TestUpdatePriorityPreservesEnqueueTimeOrdering(t *testing.T) {
	s := New(10, nil)
	s.Enqueue("a", nil, 2, "", "")
	s.Enqueue("b", nil, 2, "", "")
	time.Sleep(time.Millisecond)
	s.Enqueue("c", nil, 0, "", "")
	// Promote b to the highest priority. b keeps its original enqueue time,
	// so it sorts ahead of c, which was enqueued at priority 0 after it.
	if idx := s.UpdatePriority("b", 0); idx < 0 {
		t.Fatal("expected update to find b")
	}
	first, _ := s.Dequeue(time.Second)
	if first.RunID != "b" {
		t.Fatalf("expected promoted item first, got %q", first.RunID)
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	s1 := New(10, nil)
	s1.Enqueue("r1", nil, 1, "proj", "code")
	s1.Enqueue("r2", nil, 0, "proj", "spider")

	store := NewFileStore(path)
	if err := s1.Persist(store); err != nil {
		t.Fatalf("persist: %v", err)
	}

	s2 := New(10, nil)
	if err := s2.Restore(store); err != nil {
		t.Fatalf("restore: %v", err)
	}

	var gotOrder []string
	for {
		it, ok := s2.Dequeue(10 * time.Millisecond)
		if !ok {
			break
		}
		gotOrder = append(gotOrder, it.RunID)
	}
	if len(gotOrder) != 2 || gotOrder[0] != "r2" || gotOrder[1] != "r1" {
		t.Fatalf("unexpected restored dequeue order: %v", gotOrder)
	}
}

func TestFileStoreLoadMissingFileIsEmptyDocument(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nonexistent.json"))
	doc, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Tasks) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStoreFromClient(client, RedisStoreConfig{})

	s1 := New(10, nil)
	s1.Enqueue("r1", nil, 2, "", "")
	if err := s1.Persist(store); err != nil {
		t.Fatalf("persist: %v", err)
	}

	s2 := New(10, nil)
	if err := s2.Restore(store); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !s2.Contains("r1") {
		t.Fatal("expected r1 restored from redis store")
	}
}

