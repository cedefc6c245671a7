// Package executor runs an ExecPlan as a child process under resource
// limits, streams its stdout/stderr to a LineSink, and maps its exit
// condition to an ExecResult per spec §4.4.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/metrics"
	"github.com/pithecene-io/workernode/types"
)

// DefaultMaxLinesPerStream caps the number of lines forwarded per stream
// before further lines are silently discarded (and counted).
const DefaultMaxLinesPerStream = 100_000

// killGrace is how long Cancel/timeout waits after a terminate signal
// before escalating to a kill.
const killGrace = 5 * time.Second

// LineSink receives one captured stdout/stderr line per call. logbuffer.Buffer
// satisfies this interface.
type LineSink interface {
	Add(ctx context.Context, executionID string, logType types.LogType, content string)
}

// Config configures a single Executor run.
type Config struct {
	Plan types.ExecPlan

	// Sink receives captured stdout/stderr lines, keyed by RunID.
	Sink LineSink
	// MaxLinesPerStream overrides DefaultMaxLinesPerStream when > 0.
	MaxLinesPerStream int
	// Scanner optionally scans the plan's working directory and any source
	// files before spawning. A non-nil error aborts the run with
	// FAILED/ERROR before a process is ever started.
	Scanner SecurityScanner

	Logger    *log.Logger
	Collector *metrics.Collector
}

// Executor owns one child process's lifecycle.
type Executor struct {
	cfg    Config
	logger *log.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	startedAt time.Time

	captureWG   sync.WaitGroup
	captureDone chan struct{}

	mu        sync.Mutex
	cancelled bool

	stdoutLines atomic.Int64
	stderrLines atomic.Int64
}

// New creates an Executor for plan. Call Start then Wait.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger != nil {
		logger = logger.WithRun(cfg.Plan.RunID, "", 0)
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Start spawns the child process and begins streaming its output to the
// configured sink. It returns once the process has launched; resource
// limits and output capture run in the background until Wait.
func (e *Executor) Start(ctx context.Context) error {
	if e.cfg.Scanner != nil {
		if err := e.cfg.Scanner.Scan(e.cfg.Plan); err != nil {
			return fmt.Errorf("security scan rejected run: %w", err)
		}
	}

	e.cmd = exec.Command(e.cfg.Plan.Command, e.cfg.Plan.Args...)
	e.cmd.Dir = e.cfg.Plan.Cwd
	e.cmd.Env = mergeEnv(os.Environ(), e.cfg.Plan.Env)
	configureSysProcAttr(e.cmd)

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("executor: stdout pipe: %w", err)
	}
	e.stdout = stdout

	stderr, err := e.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("executor: stderr pipe: %w", err)
	}
	e.stderr = stderr

	e.startedAt = time.Now()
	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("executor: start: %w", err)
	}

	// Capture begins immediately, independent of Wait. The child's own
	// process exit closes its end of each pipe, which is what unblocks
	// these reads — Go's exec.Cmd.Wait() must never run concurrently with
	// a manual pipe Read, since Wait closes the pipe itself and can race
	// an in-flight Read (see os/exec's StdoutPipe doc). So Wait (below)
	// always drains these to completion before it ever calls cmd.Wait().
	e.captureWG.Add(2)
	e.captureDone = make(chan struct{})
	go e.captureStream(ctx, e.stdout, types.LogTypeStdout)
	go e.captureStream(ctx, e.stderr, types.LogTypeStderr)
	go func() {
		e.captureWG.Wait()
		close(e.captureDone)
	}()

	e.cfg.Collector.IncExecutionStarted()
	return nil
}

// Wait supervises the process to completion, applying the wall-clock
// timeout and resource-limit monitor, and returns the mapped ExecResult.
// Must be called exactly once after Start.
func (e *Executor) Wait(ctx context.Context) (*types.ExecResult, error) {
	if e.cmd == nil {
		return nil, fmt.Errorf("executor: Wait called before Start")
	}

	mon := newMonitor(e.cmd.Process.Pid, e.cfg.Plan.MemoryLimitMB, e.cfg.Plan.CPULimitSeconds)
	monDone := mon.start()
	defer mon.stop()

	var timedOut, oom, cpuExceeded bool

	timeout := time.Duration(e.cfg.Plan.TimeoutSeconds) * time.Second
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

wait:
	for {
		select {
		case <-e.captureDone:
			break wait
		case <-timeoutCh:
			timedOut = true
			timeoutCh = nil
			e.escalate()
		case reason := <-monDone:
			switch reason {
			case limitOOM:
				oom = true
			case limitCPU:
				cpuExceeded = true
			}
			monDone = nil
			e.escalate()
		case <-ctx.Done():
			ctx = context.Background()
			e.Cancel()
		}
	}

	// The capture goroutines only finish once the child has exited and
	// closed its pipe ends, so the process is reapable now: this is the
	// one and only call to cmd.Wait(), made after draining is complete.
	waitErr := e.cmd.Wait()

	e.mu.Lock()
	cancelled := e.cancelled
	e.mu.Unlock()

	exitCode := exitCodeOf(waitErr)
	finishedAt := time.Now()

	status, exitReason := types.MapExitCondition(exitCode, timedOut, cancelled, oom, cpuExceeded)
	if status == types.StatusTimeout {
		exitCode = 124
	}

	result := &types.ExecResult{
		RunID:        e.cfg.Plan.RunID,
		Status:       status,
		ExitReason:   exitReason,
		ExitCode:     exitCode,
		StartedAt:    e.startedAt.UnixMilli(),
		FinishedAt:   finishedAt.UnixMilli(),
		DurationMS:   finishedAt.Sub(e.startedAt).Milliseconds(),
		StdoutLines:  int(e.stdoutLines.Load()),
		StderrLines:  int(e.stderrLines.Load()),
	}
	if status != types.StatusSuccess {
		result.ErrorMessage = describeFailure(exitReason, waitErr)
	}

	switch status {
	case types.StatusSuccess:
		e.cfg.Collector.IncExecutionCompleted()
	case types.StatusCancelled:
		e.cfg.Collector.IncExecutionCancelled()
	case types.StatusTimeout:
		e.cfg.Collector.IncExecutionTimedOut()
	default:
		e.cfg.Collector.IncExecutionFailed()
	}

	return result, nil
}

// Cancel terminates the child process: terminate, then kill after a grace
// period. Safe to call multiple times or concurrently; only the first call
// has an effect, and sets the cancelled flag that gives cancellation
// precedence over a concurrently-firing timeout in the exit mapping.
func (e *Executor) Cancel() {
	e.mu.Lock()
	alreadyCancelled := e.cancelled
	e.cancelled = true
	e.mu.Unlock()
	if alreadyCancelled {
		return
	}
	e.escalate()
}

// escalate sends terminate, then escalates to a hard kill if the process
// hasn't exited within killGrace. Exit is detected via captureDone, which
// only fires once the child has closed its pipe ends. Harmless to call
// more than once (e.g. both a timeout and a concurrent cancel firing).
func (e *Executor) escalate() {
	if e.cmd == nil || e.cmd.Process == nil {
		return
	}
	terminate(e.cmd)
	select {
	case <-e.captureDone:
		return
	case <-time.After(killGrace):
	}
	killTree(e.cmd)
}

func (e *Executor) captureStream(ctx context.Context, r io.Reader, logType types.LogType) {
	defer e.captureWG.Done()
	if r == nil {
		return
	}

	maxLines := e.cfg.MaxLinesPerStream
	if maxLines <= 0 {
		maxLines = DefaultMaxLinesPerStream
	}

	counter := &e.stdoutLines
	if logType == types.LogTypeStderr {
		counter = &e.stderrLines
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	warnedOverflow := false
	for scanner.Scan() {
		n := counter.Add(1)
		if n > int64(maxLines) {
			if !warnedOverflow {
				warnedOverflow = true
				e.logOverflow(logType)
			}
			continue
		}
		if e.cfg.Sink != nil {
			e.cfg.Sink.Add(ctx, e.cfg.Plan.RunID, logType, scanner.Text())
		}
	}
}

func (e *Executor) logOverflow(logType types.LogType) {
	if e.logger == nil {
		return
	}
	e.logger.Warn("line capture cap reached, discarding further lines", map[string]any{
		"log_type": string(logType),
	})
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func describeFailure(reason types.ExitReason, err error) string {
	switch reason {
	case types.ExitReasonTimeout:
		return "run exceeded its wall-clock timeout"
	case types.ExitReasonCancelled:
		return "run was cancelled"
	case types.ExitReasonOOM:
		return "run exceeded its memory limit"
	case types.ExitReasonCPUExceeded:
		return "run exceeded its CPU time limit"
	default:
		if err != nil {
			return err.Error()
		}
		return "process exited with a non-zero status"
	}
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	idx := make(map[string]int, len(base))
	out := make([]string, len(base), len(base)+len(overlay))
	copy(out, base)
	for i, kv := range out {
		if k, _, ok := cutEnv(kv); ok {
			idx[k] = i
		}
	}
	for k, v := range overlay {
		entry := k + "=" + v
		if i, ok := idx[k]; ok {
			out[i] = entry
			continue
		}
		out = append(out, entry)
		idx[k] = len(out) - 1
	}
	return out
}

func cutEnv(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
