package collab

import (
	"context"
	"testing"
	"time"

	"github.com/pithecene-io/workernode/types"
)

func TestRegistryBuildPlanUnclaimedReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.BuildPlan(types.TaskPayload{TaskType: types.TaskTypeCode})
	if ok {
		t.Fatal("expected unclaimed task type to return ok=false")
	}
}

func TestRegistryBuildPlanClaimedReturnsCommand(t *testing.T) {
	r := NewRegistry()
	r.Register(PluginEntry{TaskType: types.TaskTypeCode, Command: "python3", Args: []string{"-u"}})

	ov, ok := r.BuildPlan(types.TaskPayload{TaskType: types.TaskTypeCode})
	if !ok || ov.Command != "python3" || len(ov.Args) != 1 || ov.Args[0] != "-u" {
		t.Fatalf("expected python3 [-u], got %+v (ok=%v)", ov, ok)
	}
}

func TestRegistryBuildPlanClaimedAppliesOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(PluginEntry{
		TaskType:        types.TaskTypeCode,
		Command:         "python3",
		Cwd:             "/work",
		TimeoutSeconds:  60,
		MemoryLimitMB:   256,
		CPULimitSeconds: 30,
		Env:             map[string]string{"FOO": "bar"},
	})

	ov, ok := r.BuildPlan(types.TaskPayload{TaskType: types.TaskTypeCode})
	if !ok {
		t.Fatal("expected claimed task type to return ok=true")
	}
	if ov.Cwd != "/work" || ov.TimeoutSeconds != 60 || ov.MemoryLimitMB != 256 || ov.CPULimitSeconds != 30 {
		t.Fatalf("unexpected override: %+v", ov)
	}
	if ov.Env["FOO"] != "bar" {
		t.Fatalf("expected Env override to carry through, got %+v", ov.Env)
	}
}

func TestLimiterAcquireBlocksUntilTimeout(t *testing.T) {
	l := NewLimiter(1)
	if !l.Acquire(context.Background(), time.Second) {
		t.Fatal("expected first acquire to succeed")
	}
	if l.Acquire(context.Background(), 20*time.Millisecond) {
		t.Fatal("expected second acquire to time out with no tokens left")
	}
}

func TestLimiterReleaseReturnsToken(t *testing.T) {
	l := NewLimiter(1)
	l.Acquire(context.Background(), time.Second)
	l.Release()
	if !l.Acquire(context.Background(), 20*time.Millisecond) {
		t.Fatal("expected token to be available after release")
	}
}

func TestLimiterOnFailureShrinksBucket(t *testing.T) {
	l := NewLimiter(2)
	l.OnFailure()
	l.Acquire(context.Background(), time.Second)
	if l.Acquire(context.Background(), 20*time.Millisecond) {
		t.Fatal("expected bucket shrunk to 1 token after OnFailure")
	}
}
