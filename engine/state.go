package engine

import (
	"sync"
	"time"

	"github.com/pithecene-io/workernode/types"
)

// StateManager tracks every in-flight run's state machine record, keyed by
// run_id. Single mutex, short critical sections, per spec §5.
type StateManager struct {
	mu   sync.Mutex
	runs map[string]*types.RunState
}

// NewStateManager creates an empty StateManager.
func NewStateManager() *StateManager {
	return &StateManager{runs: make(map[string]*types.RunState)}
}

// Add registers a newly-accepted run in the QUEUED state.
func (s *StateManager) Add(runID, taskID string, receipt *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = &types.RunState{
		RunID:    runID,
		TaskID:   taskID,
		Receipt:  receipt,
		State:    types.RunStateQueued,
		QueuedAt: time.Now().UnixMilli(),
	}
}

// Get returns a copy of the run's state record, or false if unknown.
func (s *StateManager) Get(runID string) (types.RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return types.RunState{}, false
	}
	return *r, true
}

// Transition moves runID to a new state. No-op if runID is unknown.
func (s *StateManager) Transition(runID string, state types.RunStateKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		r.State = state
	}
}

// RequestCancel sets the cancel_requested flag on runID. No-op if unknown.
func (s *StateManager) RequestCancel(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		r.CancelRequested = true
	}
}

// FindByTaskID returns the run_id tracking taskID, if any. Used by the
// cancel path when a control message names a task_id but no run_id.
func (s *StateManager) FindByTaskID(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.runs {
		if r.TaskID == taskID {
			return id, true
		}
	}
	return "", false
}

// Remove deletes runID's record, called once its result has been reported.
func (s *StateManager) Remove(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// CountActive returns the number of tracked runs not yet in a terminal
// state, used by stop(grace_period) to know when draining is complete.
func (s *StateManager) CountActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if !r.State.IsTerminal() {
			n++
		}
	}
	return n
}

// RunningIDs returns the run_ids currently in the RUNNING state, used to
// populate the heartbeat's Running field.
func (s *StateManager) RunningIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.runs {
		if r.State == types.RunStateRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveNonTerminal returns the run_ids in RUNNING or CANCELLING, used by
// _force_terminate on a stop timeout.
func (s *StateManager) ActiveNonTerminal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.runs {
		if r.State == types.RunStateRunning || r.State == types.RunStateCancelling {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns a copy of every tracked run, for the status/debug surface.
func (s *StateManager) Snapshot() []types.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.RunState, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	return out
}
