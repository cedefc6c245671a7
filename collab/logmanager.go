package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/types"
)

// LogManagerFactory is the default engine.LogManagerFactory: each run gets
// its own LogManager backed by a shared Lode dataset, partitioned by
// run_id so concurrent runs never interleave records in the same file.
// This reuses the teacher's own Lode wiring (Hive layout + JSONL codec)
// rather than the ad hoc line-buffer the executor uses for the live log
// stream — ArchiveLogs is for the durable, queryable copy, not the hot
// path.
type LogManagerFactory struct {
	dataset lode.Dataset
}

// NewLogManagerFactory builds a Lode dataset rooted at dir, using the same
// Hive layout (source/category/day/run_id/event_type) and JSONL codec the
// teacher's lode package uses for event records.
func NewLogManagerFactory(datasetName, dir string) (*LogManagerFactory, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(datasetName),
		lode.NewFSFactory(dir),
		lode.WithHiveLayout("source", "category", "day", "run_id", "event_type"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, fmt.Errorf("collab: create log dataset: %w", err)
	}
	return &LogManagerFactory{dataset: ds}, nil
}

// Create returns a LogManager scoped to one run.
func (f *LogManagerFactory) Create(runID string) engine.LogManager {
	return &logManager{dataset: f.dataset, runID: runID}
}

var _ engine.LogManagerFactory = (*LogManagerFactory)(nil)

type logManager struct {
	dataset lode.Dataset
	runID   string

	mu      sync.Mutex
	entries []types.LogEntry
}

func (m *logManager) Start(context.Context) error { return nil }

func (m *logManager) Add(_ context.Context, executionID string, logType types.LogType, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, types.LogEntry{
		ExecutionID: executionID,
		LogType:     logType,
		Content:     content,
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (m *logManager) Stop(context.Context) error { return nil }

// ArchiveLogs writes every buffered line as a JSONL record partitioned
// under run_id=<runID>, event_type=log, and returns a single Artifact
// pointing at that partition.
func (m *logManager) ArchiveLogs(ctx context.Context) ([]types.Artifact, error) {
	m.mu.Lock()
	entries := m.entries
	m.entries = nil
	m.mu.Unlock()

	if len(entries) == 0 {
		return nil, nil
	}

	records := make([]any, 0, len(entries))
	for _, e := range entries {
		records = append(records, map[string]any{
			"run_id":       m.runID,
			"event_type":   "log",
			"execution_id": e.ExecutionID,
			"log_type":     string(e.LogType),
			"content":      e.Content,
			"timestamp":    e.Timestamp,
		})
	}

	if _, err := m.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return nil, fmt.Errorf("collab: write log archive: %w", err)
	}

	return []types.Artifact{{
		Name: "logs.jsonl",
		URI:  fmt.Sprintf("lode://run_id=%s/event_type=log", m.runID),
	}}, nil
}

var _ engine.LogManager = (*logManager)(nil)
