// Package metrics provides process-wide counters for a worker node.
//
// Unlike a per-run collector, this one lives for the process lifetime and
// is shared by the engine, transport, and scheduler. It is a leaf package
// with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of every counter. Safe to
// read concurrently after creation.
type Snapshot struct {
	ExecutionsStarted   int64
	ExecutionsCompleted int64
	ExecutionsFailed    int64
	ExecutionsCancelled int64
	ExecutionsTimedOut  int64

	BytesSent     int64
	BytesReceived int64
	MessagesSent  int64
	Reconnects    int64
	SendErrors    int64

	LogLinesBuffered     int64
	LogLinesDropped      int64
	LogBatchesFlushed    int64
	LogBatchSendFailures int64

	SchedulerEnqueued int64
	SchedulerDequeued int64
	SchedulerDropped  int64

	NodeID string
}

// Collector accumulates process-wide counters. Thread-safe via sync.Mutex.
// All increment methods are nil-receiver safe, so collaborators can be
// constructed with a nil collector in tests without special-casing calls.
type Collector struct {
	mu sync.Mutex

	executionsStarted   int64
	executionsCompleted int64
	executionsFailed     int64
	executionsCancelled  int64
	executionsTimedOut   int64

	bytesSent     int64
	bytesReceived int64
	messagesSent  int64
	reconnects    int64
	sendErrors    int64

	logLinesBuffered     int64
	logLinesDropped      int64
	logBatchesFlushed    int64
	logBatchSendFailures int64

	schedulerEnqueued int64
	schedulerDequeued int64
	schedulerDropped  int64

	nodeID string
}

// NewCollector creates a Collector labeled with the worker's node id.
func NewCollector(nodeID string) *Collector {
	return &Collector{nodeID: nodeID}
}

// IncExecutionStarted records an execution start.
func (c *Collector) IncExecutionStarted() { c.inc(&c.executionsStarted) }

// IncExecutionCompleted records a successful completion.
func (c *Collector) IncExecutionCompleted() { c.inc(&c.executionsCompleted) }

// IncExecutionFailed records a failed execution.
func (c *Collector) IncExecutionFailed() { c.inc(&c.executionsFailed) }

// IncExecutionCancelled records a cancelled execution.
func (c *Collector) IncExecutionCancelled() { c.inc(&c.executionsCancelled) }

// IncExecutionTimedOut records a timed-out execution.
func (c *Collector) IncExecutionTimedOut() { c.inc(&c.executionsTimedOut) }

// AddBytesSent adds to the bytes-sent counter.
func (c *Collector) AddBytesSent(n int64) { c.add(&c.bytesSent, n) }

// AddBytesReceived adds to the bytes-received counter.
func (c *Collector) AddBytesReceived(n int64) { c.add(&c.bytesReceived, n) }

// IncMessagesSent records one transport message sent.
func (c *Collector) IncMessagesSent() { c.inc(&c.messagesSent) }

// IncReconnects records a transport reconnect attempt.
func (c *Collector) IncReconnects() { c.inc(&c.reconnects) }

// IncSendErrors records a transport send failure.
func (c *Collector) IncSendErrors() { c.inc(&c.sendErrors) }

// AddLogLinesBuffered adds to the buffered-line counter.
func (c *Collector) AddLogLinesBuffered(n int64) { c.add(&c.logLinesBuffered, n) }

// AddLogLinesDropped adds to the dropped-line counter.
func (c *Collector) AddLogLinesDropped(n int64) { c.add(&c.logLinesDropped, n) }

// IncLogBatchesFlushed records one flushed log batch.
func (c *Collector) IncLogBatchesFlushed() { c.inc(&c.logBatchesFlushed) }

// IncLogBatchSendFailures records one log batch send failure (the batch is
// re-queued for retry, not dropped).
func (c *Collector) IncLogBatchSendFailures() { c.inc(&c.logBatchSendFailures) }

// IncSchedulerEnqueued records a successful enqueue.
func (c *Collector) IncSchedulerEnqueued() { c.inc(&c.schedulerEnqueued) }

// IncSchedulerDequeued records a dequeue.
func (c *Collector) IncSchedulerDequeued() { c.inc(&c.schedulerDequeued) }

// IncSchedulerDropped records an enqueue rejected because the queue was full.
func (c *Collector) IncSchedulerDropped() { c.inc(&c.schedulerDropped) }

func (c *Collector) inc(counter *int64) { c.add(counter, 1) }

func (c *Collector) add(counter *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of every counter.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ExecutionsStarted:   c.executionsStarted,
		ExecutionsCompleted: c.executionsCompleted,
		ExecutionsFailed:    c.executionsFailed,
		ExecutionsCancelled: c.executionsCancelled,
		ExecutionsTimedOut:  c.executionsTimedOut,

		BytesSent:     c.bytesSent,
		BytesReceived: c.bytesReceived,
		MessagesSent:  c.messagesSent,
		Reconnects:    c.reconnects,
		SendErrors:    c.sendErrors,

		LogLinesBuffered:     c.logLinesBuffered,
		LogLinesDropped:      c.logLinesDropped,
		LogBatchesFlushed:    c.logBatchesFlushed,
		LogBatchSendFailures: c.logBatchSendFailures,

		SchedulerEnqueued: c.schedulerEnqueued,
		SchedulerDequeued: c.schedulerDequeued,
		SchedulerDropped:  c.schedulerDropped,

		NodeID: c.nodeID,
	}
}
