package engine

import (
	"context"
	"time"
)

const drainPollInterval = 100 * time.Millisecond

// Stop implements spec §4.5's stop(grace_period): stop accepting new work,
// wait up to gracePeriod for in-flight runs to finish, force-terminate any
// stragglers, tear down the worker pool, and persist the queue if a Store
// is configured.
func (e *Engine) Stop(gracePeriod time.Duration) {
	if e.pollCancel != nil {
		e.pollCancel()
	}
	if e.controlCancel != nil {
		e.controlCancel()
	}
	if e.heartbeatCancel != nil {
		e.heartbeatCancel()
	}

	e.waitForDrain(gracePeriod)
	e.forceTerminateStragglers()
	e.cancelAllWorkers()

	e.loopWG.Wait()
	e.workerWG.Wait()

	if e.deps.Store != nil {
		if err := e.deps.Scheduler.Persist(e.deps.Store); err != nil {
			e.logWarn("scheduler persist failed", map[string]any{"error": err.Error()})
		}
	}
}

func (e *Engine) waitForDrain(gracePeriod time.Duration) {
	deadline := time.Now().Add(gracePeriod)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for e.state.CountActive() > 0 {
		if time.Now().After(deadline) {
			return
		}
		<-ticker.C
	}
}

func (e *Engine) forceTerminateStragglers() {
	for _, runID := range e.state.ActiveNonTerminal() {
		e.cancelExec(runID)
	}
}

func (e *Engine) cancelAllWorkers() {
	e.mu.Lock()
	cancels := e.workerCancels
	e.workerCancels = nil
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// resizeWorkers implements spec §4.5's _resize_workers(new_max): adjust the
// scheduler's capacity and spawn or retire worker goroutines to match.
// Concurrent enqueues are tolerated — the scheduler's own mutex serializes
// against UpdateMaxSize.
func (e *Engine) resizeWorkers(newMax int) {
	if newMax < 0 {
		newMax = 0
	}
	e.deps.Scheduler.UpdateMaxSize(newMax)

	e.mu.Lock()
	cur := len(e.workerCancels)
	e.maxConcurrent = newMax

	switch {
	case newMax > cur:
		toAdd := newMax - cur
		ctx := e.runCtx
		e.mu.Unlock()
		e.spawnWorkers(ctx, toAdd)
	case newMax < cur:
		toRemove := cur - newMax
		retiring := append([]context.CancelFunc(nil), e.workerCancels[:toRemove]...)
		e.workerCancels = e.workerCancels[toRemove:]
		e.mu.Unlock()
		for _, c := range retiring {
			c()
		}
	default:
		e.mu.Unlock()
	}
}
