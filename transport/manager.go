package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/workernode/events"
	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/types"
)

// upgradeInterval is how often the upgrade loop retries streaming while
// DEGRADED, per spec §4.2.
const upgradeInterval = 60 * time.Second

// ManagerState is CommunicationManager's outward state machine value.
type ManagerState string

// ManagerState constants per spec §4.2.
const (
	StateDisconnected ManagerState = "DISCONNECTED"
	StateConnecting   ManagerState = "CONNECTING"
	StateConnected    ManagerState = "CONNECTED"
	StateDegraded     ManagerState = "DEGRADED"
)

// CommunicationManager is the outward-facing transport the engine talks to.
// It arbitrates between the streaming driver (preferred, via a
// ResilienceWrapper) and the request/response driver (fallback), tracking
// which is active and running the upgrade loop back to streaming.
type CommunicationManager struct {
	logger *log.Logger
	bus    *events.Bus

	stream *ResilienceWrapper
	http   *HTTPDriver

	mu     sync.Mutex
	state  ManagerState
	active Protocol
	cfg    types.ConnectionConfig
	forced bool // true once force_protocol has been called

	upgradeCancel context.CancelFunc
	upgradeWG     sync.WaitGroup

	onDispatch      TaskDispatchFunc
	onCancel        TaskCancelFunc
	onConfigUpdate  ConfigUpdateFunc
	onRuntimeManage RuntimeManageFunc
}

// NewCommunicationManager wires a stream driver and an HTTP driver behind a
// single Protocol-shaped front door. bus/logger may be nil.
func NewCommunicationManager(logger *log.Logger, bus *events.Bus) *CommunicationManager {
	streamDriver := NewStreamDriver(logger)
	return &CommunicationManager{
		logger: logger,
		bus:    bus,
		stream: NewResilienceWrapper(streamDriver, bus, logger),
		http:   NewHTTPDriver(logger),
		state:  StateDisconnected,
	}
}

// Connect implements the connect(cfg) state machine from spec §4.2: try
// streaming (when cfg.PreferStream) first; on failure fall back to
// request/response and enter DEGRADED with an upgrade loop running.
func (m *CommunicationManager) Connect(ctx context.Context, cfg types.ConnectionConfig) error {
	m.mu.Lock()
	m.cfg = cfg
	m.state = StateConnecting
	m.mu.Unlock()

	m.wireCallbacks(m.stream)
	m.wireCallbacks(m.http)

	if cfg.PreferStream {
		if err := m.stream.Connect(ctx, cfg); err == nil {
			m.setActive(m.stream, StateConnected)
			return nil
		}
	}

	if err := m.http.Connect(ctx, cfg); err != nil {
		m.setActive(nil, StateDisconnected)
		return err
	}
	m.setActive(m.http, StateDegraded)
	m.startUpgradeLoop()
	return nil
}

func (m *CommunicationManager) wireCallbacks(p Protocol) {
	p.OnTaskDispatch(func(msg types.TaskMessage) {
		if m.onDispatch != nil {
			m.onDispatch(msg)
		}
	})
	p.OnTaskCancel(func(msg types.ControlMessage) {
		if m.onCancel != nil {
			m.onCancel(msg)
		}
	})
	p.OnConfigUpdate(func(cfg types.ConfigUpdate) {
		if m.onConfigUpdate != nil {
			m.onConfigUpdate(cfg)
		}
	})
	p.OnRuntimeManage(func(req types.RuntimeManageRequest) {
		if m.onRuntimeManage != nil {
			m.onRuntimeManage(req)
		}
	})
}

func (m *CommunicationManager) setActive(p Protocol, state ManagerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = p
	m.state = state
}

func (m *CommunicationManager) startUpgradeLoop() {
	m.mu.Lock()
	if m.upgradeCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.upgradeCancel = cancel
	m.mu.Unlock()

	m.upgradeWG.Add(1)
	go m.upgradeLoop(ctx)
}

func (m *CommunicationManager) upgradeLoop(ctx context.Context) {
	defer m.upgradeWG.Done()
	ticker := time.NewTicker(upgradeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		forced := m.forced
		m.mu.Unlock()
		if forced {
			continue
		}

		if err := m.stream.Connect(ctx, m.cfgSnapshot()); err == nil {
			_ = m.http.Disconnect(ctx)
			m.setActive(m.stream, StateConnected)
			m.bus.Emit(events.Event{Kind: events.ProtocolUpgrade, Reason: "streaming reconnect succeeded"})

			m.mu.Lock()
			m.upgradeCancel = nil
			m.mu.Unlock()
			return
		}
	}
}

func (m *CommunicationManager) cfgSnapshot() types.ConnectionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// fallbackToHTTP closes the streaming path, connects request/response, and
// enters DEGRADED with the upgrade loop running, per spec §4.2's
// "_fallback_to_http."
func (m *CommunicationManager) fallbackToHTTP(ctx context.Context) {
	_ = m.stream.Disconnect(ctx)
	if err := m.http.Connect(ctx, m.cfgSnapshot()); err != nil {
		m.setActive(nil, StateDisconnected)
		return
	}
	m.setActive(m.http, StateDegraded)
	m.bus.Emit(events.Event{Kind: events.ProtocolFallback, Reason: "streaming driver reported disconnected"})
	m.startUpgradeLoop()
}

func (m *CommunicationManager) activeProtocol() Protocol {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// sendVia delegates to the active driver. A false/error return from a
// disconnected gRPC-style driver triggers fallback, per spec §4.2.
func (m *CommunicationManager) sendVia(ctx context.Context, fn func(Protocol) error) error {
	p := m.activeProtocol()
	if p == nil {
		return ErrNotConnected
	}
	err := fn(p)
	if _, usingStream := p.(*ResilienceWrapper); err != nil && usingStream && !m.stream.IsConnected() {
		m.fallbackToHTTP(ctx)
	}
	return err
}

// SendHeartbeat implements Protocol.
func (m *CommunicationManager) SendHeartbeat(ctx context.Context, hb types.Heartbeat) error {
	return m.sendVia(ctx, func(p Protocol) error { return p.SendHeartbeat(ctx, hb) })
}

// SendLogs implements Protocol.
func (m *CommunicationManager) SendLogs(ctx context.Context, batch types.LogBatch) error {
	return m.sendVia(ctx, func(p Protocol) error { return p.SendLogs(ctx, batch) })
}

// SendTaskStatus implements Protocol.
func (m *CommunicationManager) SendTaskStatus(ctx context.Context, status types.TaskStatus) error {
	return m.sendVia(ctx, func(p Protocol) error { return p.SendTaskStatus(ctx, status) })
}

// SendTaskAck implements Protocol.
func (m *CommunicationManager) SendTaskAck(ctx context.Context, taskID string, accepted bool, reason string) error {
	return m.sendVia(ctx, func(p Protocol) error { return p.SendTaskAck(ctx, taskID, accepted, reason) })
}

// SendCancelAck implements Protocol.
func (m *CommunicationManager) SendCancelAck(ctx context.Context, taskID string, ok bool, reason string) error {
	return m.sendVia(ctx, func(p Protocol) error { return p.SendCancelAck(ctx, taskID, ok, reason) })
}

// SendControlResult implements Protocol.
func (m *CommunicationManager) SendControlResult(ctx context.Context, result types.ControlResult) error {
	return m.sendVia(ctx, func(p Protocol) error { return p.SendControlResult(ctx, result) })
}

// OnTaskDispatch implements Protocol.
func (m *CommunicationManager) OnTaskDispatch(fn TaskDispatchFunc) { m.onDispatch = fn }

// OnTaskCancel implements Protocol.
func (m *CommunicationManager) OnTaskCancel(fn TaskCancelFunc) { m.onCancel = fn }

// OnConfigUpdate implements Protocol.
func (m *CommunicationManager) OnConfigUpdate(fn ConfigUpdateFunc) { m.onConfigUpdate = fn }

// OnRuntimeManage implements Protocol.
func (m *CommunicationManager) OnRuntimeManage(fn RuntimeManageFunc) { m.onRuntimeManage = fn }

// IsConnected implements Protocol.
func (m *CommunicationManager) IsConnected() bool {
	p := m.activeProtocol()
	return p != nil && p.IsConnected()
}

// Metrics implements Protocol, returning the active driver's metrics.
func (m *CommunicationManager) Metrics() DriverMetrics {
	p := m.activeProtocol()
	if p == nil {
		return DriverMetrics{}
	}
	return p.Metrics()
}

// State returns the manager's current state machine value.
func (m *CommunicationManager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ForceProtocol lets an operator override which driver is active,
// per spec §4.2's force_protocol(p). Setting forced stops the upgrade loop
// from overriding the operator's choice.
func (m *CommunicationManager) ForceProtocol(ctx context.Context, useStreaming bool) error {
	m.mu.Lock()
	m.forced = true
	cfg := m.cfg
	m.mu.Unlock()

	if useStreaming {
		if err := m.stream.Connect(ctx, cfg); err != nil {
			return err
		}
		_ = m.http.Disconnect(ctx)
		m.setActive(m.stream, StateConnected)
		return nil
	}

	_ = m.stream.Disconnect(ctx)
	if err := m.http.Connect(ctx, cfg); err != nil {
		return err
	}
	m.setActive(m.http, StateDegraded)
	return nil
}

// Disconnect tears down both drivers and stops the upgrade loop.
func (m *CommunicationManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.upgradeCancel
	m.upgradeCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.upgradeWG.Wait()

	streamErr := m.stream.Disconnect(ctx)
	httpErr := m.http.Disconnect(ctx)
	m.setActive(nil, StateDisconnected)
	if streamErr != nil {
		return streamErr
	}
	return httpErr
}

var _ Protocol = (*CommunicationManager)(nil)
