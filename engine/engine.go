// Package engine is the top-level worker-node orchestrator: it owns a
// scheduler, a state manager, a transport, a log buffer, and the optional
// collaborators that customize task execution, and runs the goroutine
// topology described in spec §4.5 (poll loop, control loop, N worker
// loops, a heartbeat loop).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/logbuffer"
	"github.com/pithecene-io/workernode/metrics"
	"github.com/pithecene-io/workernode/scheduler"
	"github.com/pithecene-io/workernode/transport"
	"github.com/pithecene-io/workernode/types"
)

// Fixed backpressure sleeps from spec §4.5's poll loop contract. These are
// not exposed as config knobs — the spec gives concrete numbers, not a
// tuning surface.
const (
	disconnectedSleep  = 500 * time.Millisecond
	schedulerFullSleep = 1 * time.Second
	flowControlSleep   = 100 * time.Millisecond
	dequeueTimeout     = 1 * time.Second
)

// Config holds the tunable parameters of an Engine, including the subset
// that config_update can adjust at runtime.
type Config struct {
	MaxConcurrent     int
	PollTimeout       time.Duration
	HeartbeatInterval time.Duration
	TaskMemoryLimitMB int
	TaskCPUTimeLimit  time.Duration
}

// Deps are the Engine's collaborators. Transport, Scheduler, LogBuffer, and
// NodeInfo are required; the rest are optional per spec §6 and each nil
// case degrades to the fallback behavior spec.md §4.5 describes.
type Deps struct {
	Transport transport.Protocol
	Scheduler *scheduler.Scheduler
	LogBuffer *logbuffer.Buffer
	Collector *metrics.Collector
	Logger    *log.Logger
	NodeInfo  types.NodeInfo

	ProjectFetcher    ProjectFetcher
	RuntimeManager    RuntimeManager
	PluginRegistry    PluginRegistry
	ArtifactManager   ArtifactManager
	LogManagerFactory LogManagerFactory
	FlowController    FlowController

	// Store persists the scheduler's queue on Stop, if configured.
	Store scheduler.Store
}

type queuedWork struct {
	Context types.RunContext
	Task    types.TaskMessage
}

type runningExec struct {
	cancel func()
}

// Engine is the worker node's core orchestrator.
type Engine struct {
	cfg  Config
	deps Deps

	state *StateManager

	taskCh    chan types.TaskMessage
	cancelCh  chan types.ControlMessage
	configCh  chan types.ConfigUpdate
	runtimeCh chan types.RuntimeManageRequest

	runtimeSem chan struct{}

	mu            sync.Mutex
	maxConcurrent int
	workerCancels []context.CancelFunc
	workerWG      sync.WaitGroup

	execMu sync.Mutex
	execs  map[string]*runningExec

	runCtx          context.Context
	pollCancel      context.CancelFunc
	controlCancel   context.CancelFunc
	heartbeatCancel context.CancelFunc
	loopWG          sync.WaitGroup
}

// New creates an Engine from cfg and deps. Call Start to begin the
// goroutine topology.
func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Engine{
		cfg:           cfg,
		deps:          deps,
		state:         NewStateManager(),
		taskCh:        make(chan types.TaskMessage, cfg.MaxConcurrent*4),
		cancelCh:      make(chan types.ControlMessage, 64),
		configCh:      make(chan types.ConfigUpdate, 8),
		runtimeCh:     make(chan types.RuntimeManageRequest, 8),
		runtimeSem:    make(chan struct{}, 1),
		maxConcurrent: cfg.MaxConcurrent,
		execs:         make(map[string]*runningExec),
	}
}

// Start wires transport callbacks and launches the poll loop, control loop,
// N worker loops, and the shared heartbeat loop.
func (e *Engine) Start(ctx context.Context) {
	e.deps.Transport.OnTaskDispatch(func(msg types.TaskMessage) {
		select {
		case e.taskCh <- msg:
		default:
			e.logWarn("task dispatch channel full, dropping", map[string]any{"task_id": msg.TaskID})
		}
	})
	e.deps.Transport.OnTaskCancel(func(msg types.ControlMessage) {
		select {
		case e.cancelCh <- msg:
		default:
		}
	})
	e.deps.Transport.OnConfigUpdate(func(cfg types.ConfigUpdate) {
		select {
		case e.configCh <- cfg:
		default:
		}
	})
	e.deps.Transport.OnRuntimeManage(func(req types.RuntimeManageRequest) {
		select {
		case e.runtimeCh <- req:
		default:
		}
	})

	e.runCtx = ctx

	pollCtx, pollCancel := context.WithCancel(ctx)
	e.pollCancel = pollCancel
	controlCtx, controlCancel := context.WithCancel(ctx)
	e.controlCancel = controlCancel
	heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
	e.heartbeatCancel = heartbeatCancel

	e.loopWG.Add(3)
	go e.pollLoop(pollCtx)
	go e.controlLoop(controlCtx)
	go e.heartbeatLoop(heartbeatCtx)

	e.mu.Lock()
	n := e.maxConcurrent
	e.mu.Unlock()
	e.spawnWorkers(ctx, n)
}

func (e *Engine) spawnWorkers(ctx context.Context, n int) {
	for range n {
		workerCtx, cancel := context.WithCancel(ctx)
		e.mu.Lock()
		e.workerCancels = append(e.workerCancels, cancel)
		e.mu.Unlock()
		e.workerWG.Add(1)
		go e.workerLoop(workerCtx)
	}
}

// pollLoop implements spec §4.5's poll loop contract.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.loopWG.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if !e.deps.Transport.IsConnected() {
			if sleepOrDone(ctx, disconnectedSleep) {
				return
			}
			continue
		}

		e.mu.Lock()
		full := e.deps.Scheduler.Len() >= e.maxConcurrent
		e.mu.Unlock()
		if full {
			if sleepOrDone(ctx, schedulerFullSleep) {
				return
			}
			continue
		}

		if e.deps.FlowController != nil {
			if !e.deps.FlowController.Acquire(ctx, e.cfg.PollTimeout) {
				if sleepOrDone(ctx, flowControlSleep) {
					return
				}
				continue
			}
		}

		var msg types.TaskMessage
		select {
		case msg = <-e.taskCh:
		case <-time.After(e.cfg.PollTimeout):
			continue
		case <-ctx.Done():
			return
		}

		e.acceptTask(msg)
	}
}

func (e *Engine) acceptTask(msg types.TaskMessage) {
	rc := buildRunContext(msg, e.cfg)
	e.state.Add(rc.RunID, rc.TaskID, rc.Receipt)

	priority := msg.Priority
	if priority == 0 {
		priority = int(types.DefaultPriority(types.ParseTaskType(msg.ProjectType)))
	}
	if !e.deps.Scheduler.Enqueue(rc.RunID, queuedWork{Context: rc, Task: msg}, priority, msg.ProjectID, msg.ProjectType) {
		e.state.Remove(rc.RunID)
		if e.deps.FlowController != nil {
			e.deps.FlowController.OnFailure()
		}
		return
	}
	if e.deps.FlowController != nil {
		e.deps.FlowController.OnSuccess()
	}
}

// buildRunContext implements spec §4.5 step 6's RunContext construction:
// synthesizing a run_id when absent, and lifting the ANTCODE_RUNTIME_ENV
// environment key into a label.
func buildRunContext(msg types.TaskMessage, cfg Config) types.RunContext {
	runID := msg.RunID
	if runID == "" {
		runID = "run-" + uuid.New().String()
	}
	labels, _ := runtimeEnvLabel(msg.Environment)

	var receipt *string
	if msg.Receipt != "" {
		r := msg.Receipt
		receipt = &r
	}

	return types.RunContext{
		RunID:           runID,
		TaskID:          msg.TaskID,
		ProjectID:       msg.ProjectID,
		TimeoutSeconds:  msg.Timeout,
		MemoryLimitMB:   cfg.TaskMemoryLimitMB,
		CPULimitSeconds: int(cfg.TaskCPUTimeLimit.Seconds()),
		Priority:        types.Priority(msg.Priority),
		Labels:          labels,
		Receipt:         receipt,
	}
}

// runtimeEnvLabel extracts the ANTCODE_RUNTIME_ENV key from env into a
// labels map, and returns the remaining entries for use as payload env
// vars. Shared by buildRunContext and buildTaskPayload so both derive the
// same split from the same source map.
const runtimeEnvKey = "ANTCODE_RUNTIME_ENV"

func runtimeEnvLabel(env map[string]string) (labels, rest map[string]string) {
	if len(env) == 0 {
		return nil, nil
	}
	rest = make(map[string]string, len(env))
	for k, v := range env {
		if k == runtimeEnvKey {
			labels = map[string]string{"runtime_env_name": v}
			continue
		}
		rest[k] = v
	}
	return labels, rest
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

func (e *Engine) logWarn(msg string, fields map[string]any) {
	if e.deps.Logger != nil {
		e.deps.Logger.Warn(msg, fields)
	}
}

// workerLoop implements spec §4.5's worker loop contract.
func (e *Engine) workerLoop(ctx context.Context) {
	defer e.workerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := e.deps.Scheduler.Dequeue(dequeueTimeout)
		if !ok {
			continue
		}
		work, ok := item.Data.(queuedWork)
		if !ok {
			continue
		}

		result := e.executeTask(ctx, work.Context, work.Task)
		e.reportResult(ctx, work.Context, result)
	}
}

// heartbeatLoop sends one shared heartbeat on HeartbeatInterval, carrying
// the node's current resource snapshot and the run_ids presently RUNNING.
// Spec §4.5's topology names "per-running-task" heartbeat loops; a single
// shared loop emitting the same periodic payload is functionally
// equivalent and avoids N redundant identical sends to the same Master
// connection (see DESIGN.md).
func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.loopWG.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sendHeartbeat(ctx)
		}
	}
}

func (e *Engine) sendHeartbeat(ctx context.Context) {
	hb := types.Heartbeat{
		NodeID:    e.deps.NodeInfo.NodeID,
		Timestamp: time.Now().UnixMilli(),
		Snapshot:  sampleResources(e.deps.Scheduler, e.state),
		Running:   e.state.RunningIDs(),
	}
	_ = e.deps.Transport.SendHeartbeat(ctx, hb)
}
