package engine

import (
	"context"
	"time"

	"github.com/pithecene-io/workernode/types"
)

// controlLoop dispatches cancel/kill, config_update, and runtime_manage
// messages as they arrive, per spec §4.5's control loop contract. The
// three message kinds are already split into distinct channels by the
// transport layer's callback registration, so no generic control_type
// switch is needed here.
func (e *Engine) controlLoop(ctx context.Context) {
	defer e.loopWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.cancelCh:
			e.handleCancelMessage(ctx, msg)
		case cfg := <-e.configCh:
			e.applyConfigUpdate(cfg)
		case req := <-e.runtimeCh:
			e.dispatchRuntimeManage(ctx, req)
		}
	}
}

// handleCancelMessage resolves a cancel/kill control message to a run_id
// and acks the outcome via SendCancelAck. config_update carries no receipt
// on the wire in this architecture (the transport decodes it straight to
// types.ConfigUpdate with no envelope passthrough), so it is applied
// unacknowledged; runtime_manage replies via SendControlResult instead, per
// spec §6.
func (e *Engine) handleCancelMessage(ctx context.Context, msg types.ControlMessage) {
	runID := msg.RunID
	if runID == "" {
		if id, ok := e.state.FindByTaskID(msg.TaskID); ok {
			runID = id
		}
	}
	handled := runID != "" && e.cancel(ctx, runID, msg.Reason)

	ackID := msg.TaskID
	if ackID == "" {
		ackID = runID
	}
	_ = e.deps.Transport.SendCancelAck(ctx, ackID, handled, msg.Reason)
}

// cancel implements spec §4.5's state-dependent cancel(run_id, reason).
func (e *Engine) cancel(ctx context.Context, runID, reason string) bool {
	rs, ok := e.state.Get(runID)
	if !ok {
		return false
	}

	switch rs.State {
	case types.RunStateQueued:
		if !e.deps.Scheduler.Cancel(runID) {
			return false
		}
		rc := types.RunContext{RunID: runID, TaskID: rs.TaskID, Receipt: rs.Receipt}
		result := cancelledResult(runID, time.UnixMilli(rs.QueuedAt))
		result.ErrorMessage = cancelReasonMessage(reason)
		e.reportResult(ctx, rc, result)
		return true

	case types.RunStatePreparing:
		e.state.RequestCancel(runID)
		return true

	case types.RunStateRunning:
		e.state.RequestCancel(runID)
		e.state.Transition(runID, types.RunStateCancelling)
		e.cancelExec(runID)
		return true

	default:
		return false
	}
}

func cancelReasonMessage(reason string) string {
	if reason == "" {
		return "run was cancelled"
	}
	return "run was cancelled: " + reason
}

func (e *Engine) cancelExec(runID string) {
	e.execMu.Lock()
	re, ok := e.execs[runID]
	e.execMu.Unlock()
	if ok {
		re.cancel()
	}
}

// applyConfigUpdate adjusts the engine's live concurrency and per-task
// resource-limit defaults per spec §6's config_update payload.
func (e *Engine) applyConfigUpdate(cfg types.ConfigUpdate) {
	if cfg.MaxConcurrentTasks != nil {
		e.resizeWorkers(*cfg.MaxConcurrentTasks)
	}
	e.mu.Lock()
	if cfg.TaskMemoryLimitMB != nil {
		e.cfg.TaskMemoryLimitMB = *cfg.TaskMemoryLimitMB
	}
	if cfg.TaskCPUTimeLimitSec != nil {
		e.cfg.TaskCPUTimeLimit = time.Duration(*cfg.TaskCPUTimeLimitSec) * time.Second
	}
	e.mu.Unlock()
}

// dispatchRuntimeManage handles a runtime_manage request off the control
// loop, serialized by a cap-1 semaphore so at most one runs at a time
// without blocking cancel/config_update processing.
func (e *Engine) dispatchRuntimeManage(ctx context.Context, req types.RuntimeManageRequest) {
	go func() {
		select {
		case e.runtimeSem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-e.runtimeSem }()

		result := e.handleRuntimeManage(ctx, req)
		_ = e.deps.Transport.SendControlResult(ctx, result)
	}()
}

func (e *Engine) handleRuntimeManage(ctx context.Context, req types.RuntimeManageRequest) types.ControlResult {
	res := types.ControlResult{RequestID: req.RequestID, ReplyStream: req.ReplyStream}
	if e.deps.RuntimeManager == nil {
		res.Error = "runtime management not configured"
		return res
	}
	data, err := e.deps.RuntimeManager.HandleAction(ctx, req.Action, req.Payload)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Data = data
	return res
}
