package executor

import (
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestBuildPlanUsesResolverWhenMatched(t *testing.T) {
	rc := types.RunContext{RunID: "r1", TaskID: "t1", TimeoutSeconds: 30}
	payload := types.TaskPayload{EntryPoint: "main.py", Args: []string{"--flag"}}

	resolve := func(p types.TaskPayload) (string, []string, bool) {
		return "/usr/bin/python3", []string{p.EntryPoint}, true
	}

	plan, err := BuildPlan(rc, payload, resolve)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.Command != "/usr/bin/python3" || len(plan.Args) != 1 || plan.Args[0] != "main.py" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.TimeoutSeconds != 30 {
		t.Fatalf("expected timeout carried over, got %d", plan.TimeoutSeconds)
	}
}

func TestBuildPlanFallsBackToShimWhenNoResolverMatch(t *testing.T) {
	rc := types.RunContext{RunID: "r2", TaskID: "t2"}
	payload := types.TaskPayload{EntryPoint: "run.sh", Args: []string{"a", "b"}}

	plan, err := BuildPlan(rc, payload, nil)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.Command == "" {
		t.Fatal("expected shim path as fallback command")
	}
	if len(plan.Args) != 3 || plan.Args[0] != "run.sh" {
		t.Fatalf("expected entry point prepended to args, got %v", plan.Args)
	}
}

func TestBuildPlanMergesRuntimeSpecEnv(t *testing.T) {
	rc := types.RunContext{
		RunID:  "r3",
		TaskID: "t3",
		RuntimeSpec: &types.RuntimeSpec{
			Name:    "python",
			Version: "3.11",
			EnvVars: map[string]string{"PYTHONUNBUFFERED": "1"},
		},
	}
	payload := types.TaskPayload{EntryPoint: "main.py", EnvVars: map[string]string{"FOO": "bar"}}

	plan, err := BuildPlan(rc, payload, nil)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.Env["PYTHONUNBUFFERED"] != "1" || plan.Env["FOO"] != "bar" {
		t.Fatalf("expected merged env, got %+v", plan.Env)
	}
}
