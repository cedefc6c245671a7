package engine

import (
	"context"
	"time"

	"github.com/pithecene-io/workernode/types"
)

// ProjectFetcher downloads and caches a task's project archive, per spec §6.
// A nil ProjectFetcher means the engine never populates payload.ProjectPath
// from a download_url — task payloads arrive pre-staged instead.
type ProjectFetcher interface {
	Fetch(ctx context.Context, projectID, downloadURL, fileHash string, isCompressed bool, entryPoint string) (projectPath string, err error)
}

// RuntimeHandle is an opaque interpreter/environment handle returned by
// RuntimeManager.Prepare and passed through to the executor. EnvVars are
// merged into the ExecPlan's environment.
type RuntimeHandle struct {
	Name    string
	EnvVars map[string]string
}

// EnvInfo describes one named environment known to a RuntimeManager.
type EnvInfo struct {
	Name    string
	Version string
	EnvVars map[string]string
}

// RuntimeManager prepares and releases interpreter environments, and serves
// the runtime_manage control surface (spec §4.5/§6).
type RuntimeManager interface {
	Prepare(ctx context.Context, spec *types.RuntimeSpec) (RuntimeHandle, error)
	Release(ctx context.Context, handle RuntimeHandle) error
	GetEnv(name string) (EnvInfo, bool)
	HandleAction(ctx context.Context, action types.RuntimeManageAction, payload map[string]any) (map[string]any, error)
}

// PlanOverride is a plugin's customization of the default ExecPlan built
// from RunContext/TaskPayload. Command is required when ok is returned
// true from BuildPlan; every other field is optional — a zero value means
// "use what BuildPlan already derived," not "clear it," so a plugin only
// needs to set the fields it cares about.
type PlanOverride struct {
	Command          string
	Args             []string
	Env              map[string]string
	Cwd              string
	TimeoutSeconds   int
	MemoryLimitMB    int
	CPULimitSeconds  int
	ArtifactPatterns []string
}

// PluginRegistry resolves a task payload to a per-task-type ExecPlan
// override, per spec §6's build_plan(ctx, payload) -> ExecPlan contract. A
// nil registry or a non-claiming BuildPlan (ok=false) falls through to
// executor.BuildPlan's default shim fallback without any special-casing.
type PluginRegistry interface {
	BuildPlan(payload types.TaskPayload) (PlanOverride, bool)
}

// CollectedArtifact is one file found by ArtifactManager.CollectArtifacts,
// not yet uploaded.
type CollectedArtifact struct {
	Name      string
	Path      string
	SizeBytes int64
}

// ArtifactManager collects matching files from a run's working directory
// and stores them to durable storage, per spec §6. taskID and runID are
// both threaded through so the storage key can follow SPEC_FULL.md's
// node_id/task_id/run_id/artifact_name Hive partition even when run_id is
// Master-supplied and unrelated to task_id.
type ArtifactManager interface {
	CollectArtifacts(ctx context.Context, workDir string, patterns []string, runID string) ([]CollectedArtifact, error)
	StoreArtifact(ctx context.Context, artifact CollectedArtifact, taskID, runID string) (types.Artifact, error)
}

// LogManager is a per-run log sink that also knows how to start, stop, and
// archive itself. It satisfies executor.LineSink via Add.
type LogManager interface {
	Start(ctx context.Context) error
	Add(ctx context.Context, executionID string, logType types.LogType, content string)
	Stop(ctx context.Context) error
	ArchiveLogs(ctx context.Context) ([]types.Artifact, error)
}

// LogManagerFactory creates a LogManager for one run, per spec §6.
type LogManagerFactory interface {
	Create(runID string) LogManager
}

// FlowController throttles the poll loop's acceptance rate, per spec §6.
type FlowController interface {
	Acquire(ctx context.Context, timeout time.Duration) bool
	Release()
	OnSuccess()
	OnFailure()
}
