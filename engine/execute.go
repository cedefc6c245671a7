package engine

import (
	"context"
	"time"

	"github.com/pithecene-io/workernode/executor"
	"github.com/pithecene-io/workernode/types"
)

// buildTaskPayload derives a TaskPayload from the raw dispatched message,
// per spec §4.5 step "build payload from the raw task message." EnvVars
// excludes the ANTCODE_RUNTIME_ENV key, already lifted into the run's
// label by buildRunContext.
func buildTaskPayload(msg types.TaskMessage) types.TaskPayload {
	_, envVars := runtimeEnvLabel(msg.Environment)
	return types.TaskPayload{
		TaskType:         types.ParseTaskType(msg.ProjectType),
		DownloadURL:      msg.DownloadURL,
		FileHash:         msg.FileHash,
		IsCompressed:     msg.IsCompressed,
		EntryPoint:       msg.EntryPoint,
		Args:             msg.Params.Args,
		Kwargs:           msg.Params.Kwargs,
		EnvVars:          envVars,
		ArtifactPatterns: msg.Params.ArtifactPatterns,
	}
}

// applyPlanOverride layers a claimed PluginRegistry.BuildPlan result onto
// the plan executor.BuildPlan already derived from RunContext/TaskPayload.
// Zero-value override fields leave the derived value untouched.
func applyPlanOverride(plan *types.ExecPlan, o PlanOverride) {
	if len(o.Env) > 0 {
		if plan.Env == nil {
			plan.Env = make(map[string]string, len(o.Env))
		}
		for k, v := range o.Env {
			plan.Env[k] = v
		}
	}
	if o.Cwd != "" {
		plan.Cwd = o.Cwd
	}
	if o.TimeoutSeconds > 0 {
		plan.TimeoutSeconds = o.TimeoutSeconds
	}
	if o.MemoryLimitMB > 0 {
		plan.MemoryLimitMB = o.MemoryLimitMB
	}
	if o.CPULimitSeconds > 0 {
		plan.CPULimitSeconds = o.CPULimitSeconds
	}
	if len(o.ArtifactPatterns) > 0 {
		plan.ArtifactPatterns = o.ArtifactPatterns
	}
}

// teeSink forwards each captured line to every sink in order, so a run's
// log manager archives the lines the live log buffer streams.
type teeSink []executor.LineSink

func (t teeSink) Add(ctx context.Context, executionID string, logType types.LogType, content string) {
	for _, s := range t {
		s.Add(ctx, executionID, logType, content)
	}
}

// executeTask runs the full accept-to-terminal pipeline for one run, per
// spec §4.5's _execute_task. It never returns early without a terminal
// ExecResult: every failure branch synthesizes one.
func (e *Engine) executeTask(ctx context.Context, rc types.RunContext, msg types.TaskMessage) *types.ExecResult {
	now := time.Now()

	if e.isCancelRequested(rc.RunID) {
		return cancelledResult(rc.RunID, now)
	}
	e.state.Transition(rc.RunID, types.RunStatePreparing)

	payload := buildTaskPayload(msg)

	if payload.DownloadURL != "" && e.deps.ProjectFetcher != nil {
		projectPath, err := e.deps.ProjectFetcher.Fetch(ctx, rc.ProjectID, payload.DownloadURL, payload.FileHash, payload.IsCompressed, payload.EntryPoint)
		if err != nil {
			e.state.Transition(rc.RunID, types.RunStateFailed)
			return failedResult(rc.RunID, now, "fetch project: "+err.Error())
		}
		payload.ProjectPath = projectPath
	}

	handle, released, err := e.prepareRuntime(ctx, &rc)
	if err != nil {
		e.state.Transition(rc.RunID, types.RunStateFailed)
		return failedResult(rc.RunID, now, "prepare runtime: "+err.Error())
	}
	defer released()

	if e.isCancelRequested(rc.RunID) {
		e.state.Transition(rc.RunID, types.RunStateCancelled)
		return cancelledResult(rc.RunID, now)
	}

	var resolve executor.EntryPointResolver
	var override PlanOverride
	haveOverride := false
	if e.deps.PluginRegistry != nil {
		resolve = func(p types.TaskPayload) (string, []string, bool) {
			o, ok := e.deps.PluginRegistry.BuildPlan(p)
			if !ok {
				return "", nil, false
			}
			override, haveOverride = o, true
			return o.Command, o.Args, o.Command != ""
		}
	}
	plan, err := executor.BuildPlan(rc, payload, resolve)
	if err != nil {
		e.state.Transition(rc.RunID, types.RunStateFailed)
		return failedResult(rc.RunID, now, "build plan: "+err.Error())
	}
	if haveOverride {
		applyPlanOverride(&plan, override)
	}
	for k, v := range handle.EnvVars {
		if plan.Env == nil {
			plan.Env = make(map[string]string)
		}
		plan.Env[k] = v
	}

	e.state.Transition(rc.RunID, types.RunStateRunning)

	var logMgr LogManager
	var sink executor.LineSink = e.deps.LogBuffer
	if e.deps.LogManagerFactory != nil {
		logMgr = e.deps.LogManagerFactory.Create(rc.RunID)
		if err := logMgr.Start(ctx); err != nil {
			e.logWarn("log manager start failed", map[string]any{"run_id": rc.RunID, "error": err.Error()})
			logMgr = nil
		} else {
			sink = teeSink{e.deps.LogBuffer, logMgr}
		}
	}

	exec := executor.New(executor.Config{
		Plan:      plan,
		Sink:      sink,
		Logger:    e.deps.Logger,
		Collector: e.deps.Collector,
	})
	e.registerExec(rc.RunID, exec)
	defer e.unregisterExec(rc.RunID)

	if err := exec.Start(ctx); err != nil {
		e.state.Transition(rc.RunID, types.RunStateFailed)
		e.stopLogManager(ctx, logMgr)
		return failedResult(rc.RunID, now, "start process: "+err.Error())
	}

	result, _ := exec.Wait(ctx)

	if e.deps.ArtifactManager != nil && len(plan.ArtifactPatterns) > 0 {
		collected, err := e.deps.ArtifactManager.CollectArtifacts(ctx, plan.Cwd, plan.ArtifactPatterns, rc.RunID)
		if err != nil {
			e.logWarn("artifact collection failed", map[string]any{"run_id": rc.RunID, "error": err.Error()})
		}
		for _, c := range collected {
			stored, err := e.deps.ArtifactManager.StoreArtifact(ctx, c, rc.TaskID, rc.RunID)
			if err != nil {
				e.logWarn("artifact store failed", map[string]any{"run_id": rc.RunID, "name": c.Name, "error": err.Error()})
				continue
			}
			result.Artifacts = append(result.Artifacts, stored)
		}
	}

	if logMgr != nil {
		archived, err := logMgr.ArchiveLogs(ctx)
		if err != nil {
			e.logWarn("log archive failed", map[string]any{"run_id": rc.RunID, "error": err.Error()})
		}
		if len(archived) > 0 {
			result.Artifacts = append(result.Artifacts, archived...)
			result.LogArchiveURI = archived[0].URI
		}
		e.stopLogManager(ctx, logMgr)
	}

	e.state.Transition(rc.RunID, terminalStateFor(result.Status))
	return result
}

func (e *Engine) stopLogManager(ctx context.Context, logMgr LogManager) {
	if logMgr == nil {
		return
	}
	if err := logMgr.Stop(ctx); err != nil {
		e.logWarn("log manager stop failed", map[string]any{"error": err.Error()})
	}
}

// prepareRuntime resolves a RuntimeHandle for rc, preferring a named
// environment lookup (ANTCODE_RUNTIME_ENV label) over an inline
// RuntimeSpec, and falling back to the host's own interpreter when no
// RuntimeManager is configured. The returned release func is always safe
// to call and never nil.
func (e *Engine) prepareRuntime(ctx context.Context, rc *types.RunContext) (RuntimeHandle, func(), error) {
	noop := func() {}
	if e.deps.RuntimeManager == nil {
		return RuntimeHandle{Name: "system"}, noop, nil
	}

	if name, ok := rc.Labels["runtime_env_name"]; ok {
		env, ok := e.deps.RuntimeManager.GetEnv(name)
		if !ok {
			return RuntimeHandle{}, noop, errUnknownEnv(name)
		}
		return RuntimeHandle{Name: env.Name, EnvVars: env.EnvVars}, noop, nil
	}

	if rc.RuntimeSpec != nil {
		handle, err := e.deps.RuntimeManager.Prepare(ctx, rc.RuntimeSpec)
		if err != nil {
			return RuntimeHandle{}, noop, err
		}
		release := func() { _ = e.deps.RuntimeManager.Release(context.Background(), handle) }
		return handle, release, nil
	}

	return RuntimeHandle{Name: "system"}, noop, nil
}

func (e *Engine) isCancelRequested(runID string) bool {
	rs, ok := e.state.Get(runID)
	return ok && rs.CancelRequested
}

func (e *Engine) registerExec(runID string, ex *executor.Executor) {
	e.execMu.Lock()
	e.execs[runID] = &runningExec{cancel: ex.Cancel}
	e.execMu.Unlock()
}

func (e *Engine) unregisterExec(runID string) {
	e.execMu.Lock()
	delete(e.execs, runID)
	e.execMu.Unlock()
}

func terminalStateFor(status types.Status) types.RunStateKind {
	switch status {
	case types.StatusSuccess:
		return types.RunStateCompleted
	case types.StatusCancelled:
		return types.RunStateCancelled
	default:
		return types.RunStateFailed
	}
}

func failedResult(runID string, startedAt time.Time, message string) *types.ExecResult {
	finished := time.Now()
	return &types.ExecResult{
		RunID:        runID,
		Status:       types.StatusFailed,
		ExitReason:   types.ExitReasonError,
		ExitCode:     -1,
		ErrorMessage: message,
		StartedAt:    startedAt.UnixMilli(),
		FinishedAt:   finished.UnixMilli(),
		DurationMS:   finished.Sub(startedAt).Milliseconds(),
	}
}

func cancelledResult(runID string, startedAt time.Time) *types.ExecResult {
	finished := time.Now()
	return &types.ExecResult{
		RunID:        runID,
		Status:       types.StatusCancelled,
		ExitReason:   types.ExitReasonCancelled,
		ErrorMessage: "run was cancelled before it started",
		StartedAt:    startedAt.UnixMilli(),
		FinishedAt:   finished.UnixMilli(),
		DurationMS:   finished.Sub(startedAt).Milliseconds(),
	}
}

// reportResult implements spec §4.5's _report_result: flush logs, send the
// terminal status, ack via the receipt if present, then forget the run.
func (e *Engine) reportResult(ctx context.Context, rc types.RunContext, result *types.ExecResult) {
	if e.deps.LogBuffer != nil {
		e.deps.LogBuffer.FlushExecution(ctx, rc.RunID)
	}

	status := types.TaskStatus{
		RunID:        result.RunID,
		TaskID:       rc.TaskID,
		Status:       types.StatusWireString(result.Status),
		ExitCode:     result.ExitCode,
		ErrorMessage: result.ErrorMessage,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		DurationMS:   result.DurationMS,
		Data: types.TaskStatusData{
			Artifacts:     result.Artifacts,
			LogArchiveURI: result.LogArchiveURI,
			StdoutLines:   result.StdoutLines,
			StderrLines:   result.StderrLines,
		},
	}
	_ = e.deps.Transport.SendTaskStatus(ctx, status)

	if rc.Receipt != nil {
		_ = e.deps.Transport.SendTaskAck(ctx, rc.TaskID, true, "")
	}

	e.state.Remove(rc.RunID)
}
