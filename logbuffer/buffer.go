// Package logbuffer aggregates per-execution log lines and delivers them in
// batches under a global backpressure policy.
package logbuffer

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/metrics"
	"github.com/pithecene-io/workernode/types"
)

// Sender delivers one flushed batch. Returning false causes the batch to be
// pushed back to the front of its execution's deque for retry, per spec
// §4.1's "no line is delivered twice on a successful path" invariant.
type Sender func(ctx context.Context, batch types.LogBatch) bool

// Config configures a Buffer.
type Config struct {
	// MaxBufferLines is the global cap across all executions. Zero means
	// every add drops (spec §8 degenerate boundary behavior).
	MaxBufferLines int
	// BatchThreshold triggers an async flush once an execution's deque
	// reaches this many lines.
	BatchThreshold int
	// FlushInterval is the background loop's periodic flush cadence.
	FlushInterval time.Duration
	// CompressThresholdBytes gzips a batch once its serialized estimate
	// exceeds this size.
	CompressThresholdBytes int
	// Logger is optional; nil disables buffer-level logging.
	Logger *log.Logger
	// Collector is optional; nil-safe per metrics.Collector's contract.
	Collector *metrics.Collector
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferLines:         100_000,
		BatchThreshold:         200,
		FlushInterval:          5 * time.Second,
		CompressThresholdBytes: 1024,
	}
}

type executionQueue struct {
	lines []types.LogEntry
}

// Buffer accepts log lines from the executor, coalesces them by execution
// id, and delivers them in batches via a pluggable Sender.
type Buffer struct {
	cfg    Config
	send   Sender
	logger *log.Logger
	coll   *metrics.Collector

	mu          sync.Mutex
	executions  map[string]*executionQueue
	order       []string // insertion order, for the global drop-oldest scan
	totalLines  int
	dirtySince  time.Time
	totalDropped int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Stats is a point-in-time snapshot of buffer accounting.
type Stats struct {
	TotalLines   int
	TotalDropped int64
	Executions   int
}

// New creates a Buffer and starts its background flush loop.
func New(cfg Config, send Sender) *Buffer {
	b := &Buffer{
		cfg:        cfg,
		send:       send,
		logger:     cfg.Logger,
		coll:       cfg.Collector,
		executions: make(map[string]*executionQueue),
		stopCh:     make(chan struct{}),
	}
	if cfg.FlushInterval > 0 {
		b.wg.Add(1)
		go b.intervalLoop()
	}
	return b
}

// Add appends one line to the named execution's deque. If the execution's
// deque reaches BatchThreshold, it schedules an async flush. Concurrency
// safe.
func (b *Buffer) Add(ctx context.Context, executionID string, logType types.LogType, content string) {
	b.mu.Lock()

	if b.cfg.MaxBufferLines <= 0 {
		b.totalDropped++
		b.coll.AddLogLinesDropped(1)
		b.mu.Unlock()
		return
	}

	q, ok := b.executions[executionID]
	if !ok {
		q = &executionQueue{}
		b.executions[executionID] = q
		b.order = append(b.order, executionID)
	}
	q.lines = append(q.lines, types.LogEntry{
		ExecutionID: executionID,
		LogType:     logType,
		Content:     content,
		Timestamp:   time.Now().UnixMilli(),
	})
	b.totalLines++
	b.coll.AddLogLinesBuffered(1)

	// Global oldest-line eviction, regardless of type or which execution it
	// belongs to: status integrity trumps log completeness (spec §4.1).
	for b.totalLines > b.cfg.MaxBufferLines {
		b.evictOldestLocked()
	}

	shouldFlush := b.cfg.BatchThreshold > 0 && len(q.lines) >= b.cfg.BatchThreshold
	b.mu.Unlock()

	if shouldFlush {
		go b.FlushExecution(ctx, executionID)
	}
}

// evictOldestLocked drops the oldest line across all executions. Caller
// must hold mu.
func (b *Buffer) evictOldestLocked() {
	for len(b.order) > 0 {
		execID := b.order[0]
		q, ok := b.executions[execID]
		if !ok || len(q.lines) == 0 {
			b.order = b.order[1:]
			delete(b.executions, execID)
			continue
		}
		q.lines = q.lines[1:]
		b.totalLines--
		b.totalDropped++
		b.coll.AddLogLinesDropped(1)
		if len(q.lines) == 0 {
			delete(b.executions, execID)
			b.order = b.order[1:]
		}
		b.logDrop(execID)
		return
	}
}

// Flush drains every execution's deque and delivers it.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.executions))
	for id := range b.executions {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.FlushExecution(ctx, id)
	}
}

// FlushExecution drains the named execution's deque and invokes send. On
// send failure, the batch is pushed back to the front of the deque so
// ordering is preserved on retry, and the failure counter is incremented.
// Called before every terminal status report so the Master observes final
// logs before the terminal status (spec §4.5, §8 property 4).
func (b *Buffer) FlushExecution(ctx context.Context, executionID string) {
	b.mu.Lock()
	q, ok := b.executions[executionID]
	if !ok || len(q.lines) == 0 {
		b.mu.Unlock()
		return
	}
	lines := q.lines
	q.lines = nil
	b.totalLines -= len(lines)
	b.mu.Unlock()

	batch := types.LogBatch{ExecutionID: executionID, Entries: lines}
	if b.estimateSize(lines) > b.cfg.CompressThresholdBytes {
		// The actual gzip encoding happens in the transport's wire encoder
		// when it serializes the outbound message; this flag just tells it
		// to do so (spec §4.1: "compressed flag passed to send").
		batch.Compressed = true
	}

	if b.send != nil && b.send(ctx, batch) {
		b.coll.IncLogBatchesFlushed()
		return
	}

	b.coll.IncLogBatchSendFailures()

	// Re-queue at the front, prepending anything appended meanwhile.
	b.mu.Lock()
	q2, ok := b.executions[executionID]
	if !ok {
		q2 = &executionQueue{}
		b.executions[executionID] = q2
		b.order = append(b.order, executionID)
	}
	q2.lines = append(lines, q2.lines...)
	b.totalLines += len(lines)
	b.mu.Unlock()
}

func (b *Buffer) estimateSize(lines []types.LogEntry) int {
	total := 0
	for _, l := range lines {
		total += len(l.Content)
	}
	return total
}

// Close stops the interval loop and performs a final best-effort flush.
func (b *Buffer) Close(ctx context.Context) {
	b.once.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	b.Flush(ctx)
}

// Stats returns a point-in-time snapshot of buffer accounting.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		TotalLines:   b.totalLines,
		TotalDropped: b.totalDropped,
		Executions:   len(b.executions),
	}
}

func (b *Buffer) intervalLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.stopCh:
			return
		}
	}
}

func (b *Buffer) logDrop(executionID string) {
	if b.logger == nil {
		return
	}
	b.logger.Warn("log buffer overflow, dropped oldest line", map[string]any{
		"execution_id": executionID,
	})
}
