package transport

import (
	"sort"
	"sync"
	"time"
)

// latencyWindowSize is how many recent send latencies are kept for the
// avg/p95/p99 metrics, per spec §4.2.
const latencyWindowSize = 100

// DriverMetrics is a point-in-time snapshot of one driver's counters.
type DriverMetrics struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	Reconnects       int64
	Errors           int64
	ErrorsByCode     map[ErrorCode]int64

	AvgLatency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
}

// latencyWindow is a fixed-size ring buffer of recent send latencies.
type latencyWindow struct {
	mu      sync.Mutex
	samples [latencyWindowSize]time.Duration
	next    int
	filled  int
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % latencyWindowSize
	if w.filled < latencyWindowSize {
		w.filled++
	}
}

// percentiles returns (avg, p95, p99) over the current window. Percentiles
// use nearest-rank on a sorted copy; fine for a 100-sample operational
// metric, not a statistical guarantee.
func (w *latencyWindow) percentiles() (avg, p95, p99 time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, w.filled)
	copy(sorted, w.samples[:w.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}
	avg = sum / time.Duration(w.filled)
	p95 = sorted[rankIndex(w.filled, 0.95)]
	p99 = sorted[rankIndex(w.filled, 0.99)]
	return avg, p95, p99
}

func rankIndex(n int, pct float64) int {
	idx := int(pct * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// counters is the shared mutex-guarded counter block both drivers embed,
// grounded on metrics/collector.go's nil-safe-increment shape.
type counters struct {
	mu sync.Mutex

	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
	reconnects       int64
	errors           int64
	errorsByCode     map[ErrorCode]int64

	latency latencyWindow
}

func newCounters() *counters {
	return &counters{errorsByCode: make(map[ErrorCode]int64)}
}

func (c *counters) recordSend(n int, d time.Duration) {
	c.mu.Lock()
	c.messagesSent++
	c.bytesSent += int64(n)
	c.mu.Unlock()
	c.latency.record(d)
}

func (c *counters) recordReceive(n int) {
	c.mu.Lock()
	c.messagesReceived++
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

func (c *counters) recordReconnect() {
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

func (c *counters) recordError(code ErrorCode) {
	c.mu.Lock()
	c.errors++
	c.errorsByCode[code]++
	c.mu.Unlock()
}

func (c *counters) snapshot() DriverMetrics {
	c.mu.Lock()
	m := DriverMetrics{
		MessagesSent:     c.messagesSent,
		MessagesReceived: c.messagesReceived,
		BytesSent:        c.bytesSent,
		BytesReceived:    c.bytesReceived,
		Reconnects:       c.reconnects,
		Errors:           c.errors,
		ErrorsByCode:     make(map[ErrorCode]int64, len(c.errorsByCode)),
	}
	for k, v := range c.errorsByCode {
		m.ErrorsByCode[k] = v
	}
	c.mu.Unlock()

	m.AvgLatency, m.P95Latency, m.P99Latency = c.latency.percentiles()
	return m
}
