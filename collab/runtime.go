// Package collab holds the default collaborator implementations that back
// engine.Deps in production: runtime environment management, project
// fetching, artifact storage, plugin resolution, and flow control.
package collab

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/types"
)

// Env is one named interpreter environment a RuntimeManager knows about.
type Env struct {
	Name    string
	Version string
	EnvVars map[string]string
}

// RuntimeManager is the default engine.RuntimeManager: a fixed registry of
// named environments known up front (e.g. from config), with no package
// install/uninstall support — get_platform_info and list_envs/get_env work,
// everything else returns a clear unsupported-action error, per spec §4.5's
// minimum-viable default.
type RuntimeManager struct {
	mu       sync.Mutex
	envs     map[string]Env
	nodeInfo types.NodeInfo
}

// NewRuntimeManager builds a RuntimeManager seeded with envs, keyed by name.
func NewRuntimeManager(nodeInfo types.NodeInfo, envs []Env) *RuntimeManager {
	m := &RuntimeManager{
		envs:     make(map[string]Env, len(envs)),
		nodeInfo: nodeInfo,
	}
	for _, e := range envs {
		m.envs[e.Name] = e
	}
	return m
}

// Prepare has nothing to provision beyond the node's own interpreter: the
// manager only serves pre-registered named environments via GetEnv.
func (m *RuntimeManager) Prepare(context.Context, *types.RuntimeSpec) (engine.RuntimeHandle, error) {
	return engine.RuntimeHandle{Name: "system"}, nil
}

// Release is a no-op — Prepare never allocates anything to release.
func (m *RuntimeManager) Release(context.Context, engine.RuntimeHandle) error {
	return nil
}

// GetEnv looks up a registered named environment.
func (m *RuntimeManager) GetEnv(name string) (engine.EnvInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envs[name]
	if !ok {
		return engine.EnvInfo{}, false
	}
	return engine.EnvInfo{Name: env.Name, Version: env.Version, EnvVars: env.EnvVars}, true
}

// HandleAction serves the runtime_manage control surface's read-only
// subset. Mutating actions (install/uninstall/create/delete/...) return an
// unsupported-action error rather than silently no-opping.
func (m *RuntimeManager) HandleAction(_ context.Context, action types.RuntimeManageAction, payload map[string]any) (map[string]any, error) {
	switch action {
	case types.ActionGetPlatformInfo:
		return map[string]any{
			"node_id":  m.nodeInfo.NodeID,
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
			"num_cpu":  runtime.NumCPU(),
			"hostname": m.nodeInfo.Hostname,
		}, nil
	case types.ActionListEnvs:
		m.mu.Lock()
		defer m.mu.Unlock()
		names := make([]string, 0, len(m.envs))
		for name := range m.envs {
			names = append(names, name)
		}
		return map[string]any{"envs": names}, nil
	case types.ActionGetEnv:
		name, _ := payload["name"].(string)
		env, ok := m.GetEnv(name)
		if !ok {
			return nil, fmt.Errorf("collab: unknown environment %q", name)
		}
		return map[string]any{"name": env.Name, "version": env.Version, "env_vars": env.EnvVars}, nil
	default:
		return nil, fmt.Errorf("collab: unsupported runtime_manage action %q", action)
	}
}

var _ engine.RuntimeManager = (*RuntimeManager)(nil)
