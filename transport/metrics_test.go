package transport

import (
	"testing"
	"time"
)

func TestLatencyWindowComputesAvgAndPercentiles(t *testing.T) {
	var w latencyWindow
	for i := 1; i <= 10; i++ {
		w.record(time.Duration(i) * time.Millisecond)
	}
	avg, p95, p99 := w.percentiles()
	if avg != 5500*time.Microsecond {
		t.Fatalf("expected avg 5.5ms, got %v", avg)
	}
	if p95 < 9*time.Millisecond {
		t.Fatalf("expected p95 near the high end, got %v", p95)
	}
	if p99 < p95 {
		t.Fatalf("expected p99 >= p95, got p99=%v p95=%v", p99, p95)
	}
}

func TestLatencyWindowEvictsOldestBeyondCapacity(t *testing.T) {
	var w latencyWindow
	for i := range latencyWindowSize + 10 {
		w.record(time.Duration(i) * time.Millisecond)
	}
	if w.filled != latencyWindowSize {
		t.Fatalf("expected filled to cap at %d, got %d", latencyWindowSize, w.filled)
	}
}

func TestCountersSnapshotAggregatesSendsAndErrors(t *testing.T) {
	c := newCounters()
	c.recordSend(100, 5*time.Millisecond)
	c.recordSend(50, 10*time.Millisecond)
	c.recordError(CodeUnavailable)

	snap := c.snapshot()
	if snap.MessagesSent != 2 || snap.BytesSent != 150 {
		t.Fatalf("unexpected send counters: %+v", snap)
	}
	if snap.Errors != 1 || snap.ErrorsByCode[CodeUnavailable] != 1 {
		t.Fatalf("unexpected error counters: %+v", snap)
	}
}
