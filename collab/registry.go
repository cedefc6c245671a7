package collab

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/types"
)

// PluginEntry is one registered plugin: the task type it claims, and the
// ExecPlan override it resolves to. Fields beyond Command/Args are
// optional per-task-type customizations (env, cwd, resource limits,
// artifact patterns) layered onto the plan the engine already derived
// from RunContext/TaskPayload.
type PluginEntry struct {
	TaskType         types.TaskType
	Command          string
	Args             []string
	Env              map[string]string
	Cwd              string
	TimeoutSeconds   int
	MemoryLimitMB    int
	CPULimitSeconds  int
	ArtifactPatterns []string
}

// Registry is a minimal in-memory PluginRegistry, grounded on the same
// mutex-guarded-map registration shape as a pool selector: register once at
// startup, look up by task type on every dispatch.
type Registry struct {
	mu      sync.Mutex
	entries map[types.TaskType]PluginEntry
}

// NewRegistry returns an empty Registry. With no entries registered, every
// BuildPlan call returns ok=false and the engine falls through to
// executor.BuildPlan's shim default.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[types.TaskType]PluginEntry)}
}

// Register claims a task type for a plugin's command/args template.
func (r *Registry) Register(entry PluginEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.TaskType] = entry
}

// BuildPlan resolves payload.TaskType to a registered plan override.
func (r *Registry) BuildPlan(payload types.TaskPayload) (engine.PlanOverride, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[payload.TaskType]
	if !ok {
		return engine.PlanOverride{}, false
	}
	return engine.PlanOverride{
		Command:          entry.Command,
		Args:             append([]string(nil), entry.Args...),
		Env:              entry.Env,
		Cwd:              entry.Cwd,
		TimeoutSeconds:   entry.TimeoutSeconds,
		MemoryLimitMB:    entry.MemoryLimitMB,
		CPULimitSeconds:  entry.CPULimitSeconds,
		ArtifactPatterns: entry.ArtifactPatterns,
	}, true
}

var _ engine.PluginRegistry = (*Registry)(nil)

// Limiter is a token-bucket FlowController: Acquire blocks until a token is
// available or timeout elapses. OnFailure shrinks the bucket (additive
// decrease) to back off the poll loop's acceptance rate under repeated
// downstream errors; OnSuccess restores it one token at a time, up to the
// configured burst size.
type Limiter struct {
	mu      sync.Mutex
	tokens  chan struct{}
	burst   int
	current int
}

// NewLimiter creates a Limiter with burst concurrent tokens available
// immediately.
func NewLimiter(burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{tokens: make(chan struct{}, burst), burst: burst, current: burst}
	for range burst {
		l.tokens <- struct{}{}
	}
	return l
}

// Acquire blocks until a token is available or timeout elapses.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.tokens:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release returns a token to the pool.
func (l *Limiter) Release() {
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}

// OnSuccess grows the effective bucket size by one token, up to burst.
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current >= l.burst {
		return
	}
	l.current++
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}

// OnFailure shrinks the effective bucket size by one token, down to 1, by
// draining a token without returning it.
func (l *Limiter) OnFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current <= 1 {
		return
	}
	select {
	case <-l.tokens:
		l.current--
	default:
	}
}

var _ engine.FlowController = (*Limiter)(nil)
