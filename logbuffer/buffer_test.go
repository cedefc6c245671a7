package logbuffer

import (
	"context"
	"testing"

	"github.com/pithecene-io/workernode/metrics"
	"github.com/pithecene-io/workernode/types"
)

func TestAddAndFlushPreservesOrder(t *testing.T) {
	var delivered []types.LogBatch
	send := func(_ context.Context, batch types.LogBatch) bool {
		delivered = append(delivered, batch)
		return true
	}

	cfg := DefaultConfig()
	cfg.FlushInterval = 0
	b := New(cfg, send)
	defer b.Close(context.Background())

	ctx := context.Background()
	b.Add(ctx, "r1", types.LogTypeStdout, "line1")
	b.Add(ctx, "r1", types.LogTypeStdout, "line2")
	b.FlushExecution(ctx, "r1")

	if len(delivered) != 1 || len(delivered[0].Entries) != 2 {
		t.Fatalf("expected one batch of 2 entries, got %+v", delivered)
	}
	if delivered[0].Entries[0].Content != "line1" || delivered[0].Entries[1].Content != "line2" {
		t.Fatalf("order not preserved: %+v", delivered[0].Entries)
	}
}

func TestFlushRetryOnSendFailure(t *testing.T) {
	attempts := 0
	send := func(_ context.Context, batch types.LogBatch) bool {
		attempts++
		return attempts > 1
	}

	cfg := DefaultConfig()
	cfg.FlushInterval = 0
	cfg.Collector = metrics.NewCollector("n1")
	b := New(cfg, send)
	defer b.Close(context.Background())

	ctx := context.Background()
	b.Add(ctx, "r1", types.LogTypeStdout, "line1")
	b.FlushExecution(ctx, "r1") // fails, re-queued
	if got := b.Stats().TotalLines; got != 1 {
		t.Fatalf("expected line to be re-queued after failed send, got %d lines", got)
	}
	if got := cfg.Collector.Snapshot().LogBatchSendFailures; got != 1 {
		t.Fatalf("expected 1 recorded send failure, got %d", got)
	}
	b.FlushExecution(ctx, "r1") // succeeds
	if got := b.Stats().TotalLines; got != 0 {
		t.Fatalf("expected buffer drained after successful retry, got %d lines", got)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 send attempts, got %d", attempts)
	}
	if got := cfg.Collector.Snapshot().LogBatchSendFailures; got != 1 {
		t.Fatalf("expected send-failure count to stay at 1 after a successful flush, got %d", got)
	}
}

func TestGlobalDropOldestOnOverflow(t *testing.T) {
	var delivered []types.LogBatch
	send := func(_ context.Context, batch types.LogBatch) bool {
		delivered = append(delivered, batch)
		return true
	}

	cfg := DefaultConfig()
	cfg.FlushInterval = 0
	cfg.MaxBufferLines = 2
	cfg.BatchThreshold = 1000 // disable auto-flush so we control draining
	b := New(cfg, send)
	defer b.Close(context.Background())

	ctx := context.Background()
	b.Add(ctx, "r1", types.LogTypeStdout, "a")
	b.Add(ctx, "r2", types.LogTypeStdout, "b")
	b.Add(ctx, "r3", types.LogTypeStdout, "c") // should evict r1's "a", the oldest overall

	stats := b.Stats()
	if stats.TotalLines != 2 {
		t.Fatalf("expected global cap of 2 lines, got %d", stats.TotalLines)
	}
	if stats.TotalDropped != 1 {
		t.Fatalf("expected 1 dropped line, got %d", stats.TotalDropped)
	}

	b.Flush(ctx)
	var allContent []string
	for _, batch := range delivered {
		for _, e := range batch.Entries {
			allContent = append(allContent, e.Content)
		}
	}
	for _, c := range allContent {
		if c == "a" {
			t.Fatalf("oldest line should have been dropped, but was delivered: %v", allContent)
		}
	}
}

func TestDegenerateMaxBufferLinesZero(t *testing.T) {
	delivered := 0
	send := func(_ context.Context, _ types.LogBatch) bool {
		delivered++
		return true
	}
	cfg := DefaultConfig()
	cfg.MaxBufferLines = 0
	cfg.FlushInterval = 0
	b := New(cfg, send)
	defer b.Close(context.Background())

	ctx := context.Background()
	b.Add(ctx, "r1", types.LogTypeStdout, "x")
	if stats := b.Stats(); stats.TotalDropped != 1 || stats.TotalLines != 0 {
		t.Fatalf("expected every add to drop immediately, got %+v", stats)
	}
}
