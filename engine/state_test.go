package engine

import (
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestStateManagerAddAndGet(t *testing.T) {
	s := NewStateManager()
	s.Add("run-1", "task-1", nil)

	rs, ok := s.Get("run-1")
	if !ok {
		t.Fatal("expected run-1 to be tracked")
	}
	if rs.State != types.RunStateQueued {
		t.Fatalf("expected QUEUED, got %s", rs.State)
	}
	if rs.TaskID != "task-1" {
		t.Fatalf("expected task-1, got %s", rs.TaskID)
	}
}

func TestStateManagerTransitionAndCancel(t *testing.T) {
	s := NewStateManager()
	s.Add("run-1", "task-1", nil)
	s.Transition("run-1", types.RunStateRunning)
	s.RequestCancel("run-1")

	rs, ok := s.Get("run-1")
	if !ok || rs.State != types.RunStateRunning || !rs.CancelRequested {
		t.Fatalf("expected RUNNING+cancel_requested, got %+v (ok=%v)", rs, ok)
	}
}

func TestStateManagerCountActiveExcludesTerminal(t *testing.T) {
	s := NewStateManager()
	s.Add("queued", "t1", nil)
	s.Add("done", "t2", nil)
	s.Transition("done", types.RunStateCompleted)

	if got := s.CountActive(); got != 1 {
		t.Fatalf("expected 1 active run, got %d", got)
	}
}

func TestStateManagerRunningIDs(t *testing.T) {
	s := NewStateManager()
	s.Add("a", "t1", nil)
	s.Add("b", "t2", nil)
	s.Transition("a", types.RunStateRunning)

	running := s.RunningIDs()
	if len(running) != 1 || running[0] != "a" {
		t.Fatalf("expected only [a] running, got %v", running)
	}
}

func TestStateManagerActiveNonTerminal(t *testing.T) {
	s := NewStateManager()
	s.Add("running", "t1", nil)
	s.Add("cancelling", "t2", nil)
	s.Add("queued", "t3", nil)
	s.Transition("running", types.RunStateRunning)
	s.Transition("cancelling", types.RunStateCancelling)

	ids := s.ActiveNonTerminal()
	if len(ids) != 2 {
		t.Fatalf("expected 2 non-terminal active runs, got %v", ids)
	}
}

func TestStateManagerFindByTaskID(t *testing.T) {
	s := NewStateManager()
	s.Add("run-1", "task-1", nil)

	runID, ok := s.FindByTaskID("task-1")
	if !ok || runID != "run-1" {
		t.Fatalf("expected run-1, got %q (ok=%v)", runID, ok)
	}
	if _, ok := s.FindByTaskID("unknown"); ok {
		t.Fatal("expected unknown task_id to miss")
	}
}

func TestStateManagerRemove(t *testing.T) {
	s := NewStateManager()
	s.Add("run-1", "task-1", nil)
	s.Remove("run-1")
	if _, ok := s.Get("run-1"); ok {
		t.Fatal("expected run-1 to be gone after Remove")
	}
}
