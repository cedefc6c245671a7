package metrics

import "testing"

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector
	c.IncExecutionStarted()
	c.AddBytesSent(10)
	if snap := c.Snapshot(); snap.ExecutionsStarted != 0 {
		t.Fatalf("expected zero-value snapshot from nil collector, got %+v", snap)
	}
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector("node-1")
	c.IncExecutionStarted()
	c.IncExecutionCompleted()
	c.AddBytesSent(100)

	snap := c.Snapshot()
	if snap.ExecutionsStarted != 1 || snap.ExecutionsCompleted != 1 || snap.BytesSent != 100 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.NodeID != "node-1" {
		t.Fatalf("expected node id label, got %q", snap.NodeID)
	}

	c.IncExecutionStarted()
	if snap.ExecutionsStarted != 1 {
		t.Fatal("snapshot should not observe later mutations")
	}
}
