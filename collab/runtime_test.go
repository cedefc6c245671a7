package collab

import (
	"context"
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestRuntimeManagerGetEnv(t *testing.T) {
	m := NewRuntimeManager(types.NodeInfo{NodeID: "node-1"}, []Env{
		{Name: "py311", Version: "3.11", EnvVars: map[string]string{"X": "1"}},
	})

	env, ok := m.GetEnv("py311")
	if !ok || env.Version != "3.11" {
		t.Fatalf("expected py311/3.11, got %+v (ok=%v)", env, ok)
	}
	if _, ok := m.GetEnv("missing"); ok {
		t.Fatal("expected unknown env to miss")
	}
}

func TestRuntimeManagerHandleActionPlatformInfo(t *testing.T) {
	m := NewRuntimeManager(types.NodeInfo{NodeID: "node-1"}, nil)
	data, err := m.HandleAction(context.Background(), types.ActionGetPlatformInfo, nil)
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if data["node_id"] != "node-1" {
		t.Fatalf("expected node_id=node-1, got %v", data)
	}
}

func TestRuntimeManagerHandleActionUnsupported(t *testing.T) {
	m := NewRuntimeManager(types.NodeInfo{NodeID: "node-1"}, nil)
	_, err := m.HandleAction(context.Background(), types.ActionInstallPackages, nil)
	if err == nil {
		t.Fatal("expected install_packages to be unsupported")
	}
}

func TestRuntimeManagerHandleActionGetEnvMissing(t *testing.T) {
	m := NewRuntimeManager(types.NodeInfo{NodeID: "node-1"}, nil)
	_, err := m.HandleAction(context.Background(), types.ActionGetEnv, map[string]any{"name": "missing"})
	if err == nil {
		t.Fatal("expected get_env on unknown name to fail")
	}
}
