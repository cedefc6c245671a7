package transport

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/workernode/events"
	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/types"
)

// Reconnect backoff parameters per spec §4.2: delay = min(base *
// multiplier^attempt, max) with +/-10% jitter.
const (
	reconnectBase       = 5 * time.Second
	reconnectMultiplier = 2.0
	reconnectMax        = 60 * time.Second
	reconnectJitter     = 0.10
)

// ConnState is the resilience wrapper's own connectedness, distinct from
// CommunicationManager's higher-level state machine.
type ConnState string

// ConnState constants.
const (
	ConnDisconnected ConnState = "DISCONNECTED"
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
)

// ResilienceWrapper wraps a StreamDriver with reconnect-with-backoff, a
// bounded outbound buffer while disconnected, and FIFO replay on reconnect.
// It satisfies Protocol itself, so the CommunicationManager can treat it as
// just another driver.
type ResilienceWrapper struct {
	logger *log.Logger
	bus    *events.Bus

	driver *StreamDriver

	mu       sync.Mutex
	cfg      types.ConnectionConfig
	selector *EndpointSelector
	state    ConnState

	buffer *MessageBuffer

	reconnectCancel context.CancelFunc
	reconnectWG     sync.WaitGroup
	reconnecting    atomic.Bool
}

// NewResilienceWrapper wraps driver. bus may be nil (events silently
// dropped, matching events.Bus's nil-receiver-safe Emit).
func NewResilienceWrapper(driver *StreamDriver, bus *events.Bus, logger *log.Logger) *ResilienceWrapper {
	return &ResilienceWrapper{
		driver: driver,
		bus:    bus,
		logger: logger,
		state:  ConnDisconnected,
		buffer: NewMessageBuffer(DefaultBufferCapacity),
	}
}

// Connect attempts one immediate connection; on failure it starts the
// background reconnect loop and still returns the error, per spec §4.2's
// "on initial connect failure, returns false and starts an internal
// reconnect loop."
func (w *ResilienceWrapper) Connect(ctx context.Context, cfg types.ConnectionConfig) error {
	w.mu.Lock()
	w.cfg = cfg
	strategy := StrategyRoundRobin
	selector, err := NewEndpointSelector(cfg.Endpoints(), strategy)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.selector = selector
	w.setStateLocked(ConnConnecting)
	w.mu.Unlock()

	if err := w.tryConnectOnce(ctx); err != nil {
		w.mu.Lock()
		w.setStateLocked(ConnDisconnected)
		w.mu.Unlock()
		w.startReconnectLoop()
		return err
	}

	w.mu.Lock()
	w.setStateLocked(ConnConnected)
	w.mu.Unlock()
	return nil
}

func (w *ResilienceWrapper) tryConnectOnce(ctx context.Context) error {
	w.mu.Lock()
	cfg := w.cfg
	selector := w.selector
	w.mu.Unlock()

	endpoint, err := selector.Next()
	if err != nil {
		return err
	}
	attemptCfg := cfg
	attemptCfg.MasterURLs = []string{endpoint}

	if err := w.driver.Connect(ctx, attemptCfg); err != nil {
		selector.MarkFailure(endpoint)
		return err
	}
	selector.MarkSuccess(endpoint)
	return nil
}

// startReconnectLoop is a no-op if a reconnect loop is already running.
func (w *ResilienceWrapper) startReconnectLoop() {
	if !w.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.reconnectCancel = cancel
	w.mu.Unlock()

	w.reconnectWG.Add(1)
	go w.reconnectLoop(ctx)
}

func (w *ResilienceWrapper) reconnectLoop(ctx context.Context) {
	defer w.reconnectWG.Done()
	defer w.reconnecting.Store(false)

	attempt := 0
	for {
		delay := backoffDelay(attempt)
		w.emit(events.Event{Kind: events.ReconnectionAttempt, Attempt: attempt, Delay: delay})

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		w.mu.Lock()
		w.setStateLocked(ConnConnecting)
		w.mu.Unlock()

		if err := w.tryConnectOnce(ctx); err != nil {
			attempt++
			w.mu.Lock()
			w.setStateLocked(ConnDisconnected)
			w.mu.Unlock()
			w.emit(events.Event{Kind: events.ReconnectionFailed, Attempt: attempt, Err: err})
			continue
		}

		w.driver.RecordReconnect()
		w.mu.Lock()
		w.setStateLocked(ConnConnected)
		w.mu.Unlock()
		w.emit(events.Event{Kind: events.ReconnectionSucceeded, Attempt: attempt})

		w.replayBuffer()
		_ = w.driver.SendHeartbeat(context.Background(), types.Heartbeat{NodeID: w.cfg.NodeID, Timestamp: time.Now().UnixMilli()})
		return
	}
}

// backoffDelay computes min(base*multiplier^attempt, max) with +/-10%
// jitter, per spec §4.2.
func backoffDelay(attempt int) time.Duration {
	d := float64(reconnectBase)
	for range attempt {
		d *= reconnectMultiplier
	}
	if d > float64(reconnectMax) {
		d = float64(reconnectMax)
	}
	jitterRange := d * reconnectJitter
	offset := jitterFraction()*2*jitterRange - jitterRange
	d += offset
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func jitterFraction() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / float64(int64(1)<<53)
}

// replayBuffer sends every buffered message FIFO, re-buffering anything
// from the point of first failure onward.
func (w *ResilienceWrapper) replayBuffer() {
	items := w.buffer.DrainAll()
	for i, item := range items {
		var err error
		switch item.Kind {
		case types.BufferedLogBatch:
			err = w.driver.SendLogs(context.Background(), *item.LogBatch)
		case types.BufferedTaskStatus:
			err = w.driver.SendTaskStatus(context.Background(), *item.TaskStat)
		}
		if err != nil {
			w.buffer.PushFront(items[i:])
			return
		}
	}
}

func (w *ResilienceWrapper) setStateLocked(s ConnState) {
	if w.state == s {
		return
	}
	from := w.state
	w.state = s
	w.emit(events.Event{Kind: events.ConnectionStateChanged, FromState: string(from), ToState: string(s)})
}

func (w *ResilienceWrapper) emit(ev events.Event) {
	ev.At = time.Now()
	w.bus.Emit(ev)
}

// Disconnect stops reconnection and closes the underlying driver.
func (w *ResilienceWrapper) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.reconnectCancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.reconnectWG.Wait()

	w.mu.Lock()
	w.setStateLocked(ConnDisconnected)
	w.mu.Unlock()
	return w.driver.Disconnect(ctx)
}

func (w *ResilienceWrapper) connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == ConnConnected
}

// onSendFailure transitions to disconnected and (re)starts the reconnect
// loop, per spec §4.2's "on send failures or driver-observed disconnect."
func (w *ResilienceWrapper) onSendFailure() {
	w.mu.Lock()
	w.setStateLocked(ConnDisconnected)
	w.mu.Unlock()
	w.startReconnectLoop()
}

// SendHeartbeat implements Protocol. Silently discarded while disconnected.
func (w *ResilienceWrapper) SendHeartbeat(ctx context.Context, hb types.Heartbeat) error {
	if !w.connected() {
		return nil
	}
	if err := w.driver.SendHeartbeat(ctx, hb); err != nil {
		w.onSendFailure()
	}
	return nil
}

// SendLogs implements Protocol. Buffered while disconnected.
func (w *ResilienceWrapper) SendLogs(ctx context.Context, batch types.LogBatch) error {
	if !w.connected() {
		w.bufferMessage(types.BufferedMessage{Kind: types.BufferedLogBatch, Timestamp: time.Now().UnixMilli(), LogBatch: &batch})
		return nil
	}
	if err := w.driver.SendLogs(ctx, batch); err != nil {
		w.bufferMessage(types.BufferedMessage{Kind: types.BufferedLogBatch, Timestamp: time.Now().UnixMilli(), LogBatch: &batch})
		w.onSendFailure()
	}
	return nil
}

// SendTaskStatus implements Protocol. Buffered while disconnected.
func (w *ResilienceWrapper) SendTaskStatus(ctx context.Context, status types.TaskStatus) error {
	if !w.connected() {
		w.bufferMessage(types.BufferedMessage{Kind: types.BufferedTaskStatus, Timestamp: time.Now().UnixMilli(), TaskStat: &status})
		return nil
	}
	if err := w.driver.SendTaskStatus(ctx, status); err != nil {
		w.bufferMessage(types.BufferedMessage{Kind: types.BufferedTaskStatus, Timestamp: time.Now().UnixMilli(), TaskStat: &status})
		w.onSendFailure()
	}
	return nil
}

func (w *ResilienceWrapper) bufferMessage(msg types.BufferedMessage) {
	if w.buffer.Push(msg) {
		w.emit(events.Event{Kind: events.MessageDropped, DroppedKind: string(msg.Kind)})
	}
}

// SendTaskAck implements Protocol.
func (w *ResilienceWrapper) SendTaskAck(ctx context.Context, taskID string, accepted bool, reason string) error {
	if !w.connected() {
		return ErrNotConnected
	}
	return w.driver.SendTaskAck(ctx, taskID, accepted, reason)
}

// SendCancelAck implements Protocol.
func (w *ResilienceWrapper) SendCancelAck(ctx context.Context, taskID string, ok bool, reason string) error {
	if !w.connected() {
		return ErrNotConnected
	}
	return w.driver.SendCancelAck(ctx, taskID, ok, reason)
}

// SendControlResult implements Protocol.
func (w *ResilienceWrapper) SendControlResult(ctx context.Context, result types.ControlResult) error {
	if !w.connected() {
		return ErrNotConnected
	}
	return w.driver.SendControlResult(ctx, result)
}

// OnTaskDispatch implements Protocol.
func (w *ResilienceWrapper) OnTaskDispatch(fn TaskDispatchFunc) { w.driver.OnTaskDispatch(fn) }

// OnTaskCancel implements Protocol.
func (w *ResilienceWrapper) OnTaskCancel(fn TaskCancelFunc) { w.driver.OnTaskCancel(fn) }

// OnConfigUpdate implements Protocol.
func (w *ResilienceWrapper) OnConfigUpdate(fn ConfigUpdateFunc) { w.driver.OnConfigUpdate(fn) }

// OnRuntimeManage implements Protocol.
func (w *ResilienceWrapper) OnRuntimeManage(fn RuntimeManageFunc) { w.driver.OnRuntimeManage(fn) }

// IsConnected implements Protocol.
func (w *ResilienceWrapper) IsConnected() bool { return w.connected() }

// Metrics implements Protocol.
func (w *ResilienceWrapper) Metrics() DriverMetrics { return w.driver.Metrics() }

// BufferDepth returns the number of messages currently queued while
// disconnected, used by the status/debug surface.
func (w *ResilienceWrapper) BufferDepth() int { return w.buffer.Len() }

var _ Protocol = (*ResilienceWrapper)(nil)
