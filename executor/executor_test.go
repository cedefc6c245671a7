package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/workernode/types"
)

type fakeSink struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeSink) Add(ctx context.Context, executionID string, logType types.LogType, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, content)
}

func TestExecutorSuccessExitMapping(t *testing.T) {
	sink := &fakeSink{}
	plan := types.ExecPlan{
		RunID:   "r1",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo hello; echo world 1>&2"},
	}
	e := New(Config{Plan: plan, Sink: sink})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Status != types.StatusSuccess || res.ExitReason != types.ExitReasonOK {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.StdoutLines != 1 || res.StderrLines != 1 {
		t.Fatalf("expected 1 stdout/1 stderr line, got %+v", res)
	}
}

func TestExecutorNonZeroExit(t *testing.T) {
	plan := types.ExecPlan{RunID: "r2", Command: "/bin/sh", Args: []string{"-c", "exit 7"}}
	e := New(Config{Plan: plan})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Status != types.StatusFailed || res.ExitReason != types.ExitReasonError || res.ExitCode != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecutorTimeout(t *testing.T) {
	plan := types.ExecPlan{
		RunID:          "r3",
		Command:        "/bin/sh",
		Args:           []string{"-c", "sleep 5"},
		TimeoutSeconds: 1,
	}
	e := New(Config{Plan: plan})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	res, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Status != types.StatusTimeout || res.ExitReason != types.ExitReasonTimeout {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ExitCode != 124 {
		t.Fatalf("expected exit code 124 on timeout, got %d", res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestExecutorCancel(t *testing.T) {
	plan := types.ExecPlan{RunID: "r4", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}}
	e := New(Config{Plan: plan})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		e.Cancel()
	}()

	res, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Status != types.StatusCancelled || res.ExitReason != types.ExitReasonCancelled {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecutorCancelSecondCallIsNoop(t *testing.T) {
	plan := types.ExecPlan{RunID: "r5", Command: "/bin/sh", Args: []string{"-c", "sleep 1"}}
	e := New(Config{Plan: plan})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Cancel()
	e.Cancel() // must not panic or double-close anything
	if _, err := e.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestExecutorLineCapDiscardsBeyondLimit(t *testing.T) {
	sink := &fakeSink{}
	plan := types.ExecPlan{RunID: "r6", Command: "/bin/sh", Args: []string{"-c", "for i in 1 2 3 4 5; do echo $i; done"}}
	e := New(Config{Plan: plan, Sink: sink, MaxLinesPerStream: 2})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.StdoutLines != 5 {
		t.Fatalf("expected counter to track all 5 lines seen, got %d", res.StdoutLines)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.lines) != 2 {
		t.Fatalf("expected only 2 lines forwarded to sink, got %d", len(sink.lines))
	}
}
