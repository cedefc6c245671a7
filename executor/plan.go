package executor

import (
	"fmt"

	"github.com/pithecene-io/workernode/types"
)

// EntryPointResolver maps a task payload to a concrete interpreter
// command, e.g. a PluginRegistry entry. Returning ("", nil, false) means no
// plugin claims this payload and the shim fallback should be used.
type EntryPointResolver func(payload types.TaskPayload) (command string, args []string, ok bool)

// BuildPlan constructs the ExecPlan for a run. If resolve is nil or
// returns ok=false, the plan falls back to the embedded default
// task-runner shim, exec'ing payload.EntryPoint directly — this keeps
// plan construction total even with zero plugins registered (spec §4.4
// expansion).
func BuildPlan(rc types.RunContext, payload types.TaskPayload, resolve EntryPointResolver) (types.ExecPlan, error) {
	env := make(map[string]string, len(payload.EnvVars))
	for k, v := range payload.EnvVars {
		env[k] = v
	}
	if rc.RuntimeSpec != nil {
		for k, v := range rc.RuntimeSpec.EnvVars {
			env[k] = v
		}
	}

	command, args, ok := tryResolve(resolve, payload)
	if !ok {
		shimPath, err := ExtractedShimPath()
		if err != nil {
			return types.ExecPlan{}, fmt.Errorf("executor: resolve default shim: %w", err)
		}
		command = shimPath
		args = append([]string{payload.EntryPoint}, payload.Args...)
	}

	return types.ExecPlan{
		RunID:            rc.RunID,
		Command:          command,
		Args:             args,
		Env:              env,
		Cwd:              payload.ProjectPath,
		TimeoutSeconds:   rc.TimeoutSeconds,
		MemoryLimitMB:    rc.MemoryLimitMB,
		CPULimitSeconds:  rc.CPULimitSeconds,
		ArtifactPatterns: payload.ArtifactPatterns,
	}, nil
}

func tryResolve(resolve EntryPointResolver, payload types.TaskPayload) (string, []string, bool) {
	if resolve == nil {
		return "", nil, false
	}
	return resolve(payload)
}
