package types

// LogType distinguishes stdout from stderr lines.
type LogType string

// LogType constants.
const (
	LogTypeStdout LogType = "stdout"
	LogTypeStderr LogType = "stderr"
)

// LogEntry is a single captured line from an execution's child process.
type LogEntry struct {
	ExecutionID string  `msgpack:"execution_id"`
	LogType     LogType `msgpack:"log_type"`
	Content     string  `msgpack:"content"`
	Timestamp   int64   `msgpack:"timestamp"`
}

// QueuedItem is what lives in the scheduler: the dequeue-ordering key plus
// an opaque payload the engine controls the shape of.
type QueuedItem struct {
	RunID        string `json:"run_id"`
	Priority     int    `json:"priority"`
	EnqueueTime  int64  `json:"enqueue_time"` // unix micros, used as the FIFO tiebreaker
	ProjectID    string `json:"project_id,omitempty"`
	ProjectType  string `json:"project_type,omitempty"`
	Data         any    `json:"data"`
}

// BufferedMessageKind discriminates the oneof carried by BufferedMessage.
type BufferedMessageKind string

// BufferedMessageKind constants.
const (
	BufferedHeartbeat   BufferedMessageKind = "heartbeat"
	BufferedLogBatch    BufferedMessageKind = "log_batch"
	BufferedTaskStatus  BufferedMessageKind = "task_status"
)

// BufferedMessage is one message held in the resilience wrapper's outbound
// buffer while disconnected. Heartbeats are never buffered (spec §4.2):
// BufferedHeartbeat is declared as a discriminant value, but nothing in the
// tree queues or records a message of that kind.
type BufferedMessage struct {
	Kind      BufferedMessageKind
	Timestamp int64
	Retries   int
	Heartbeat *Heartbeat
	LogBatch  *LogBatch
	TaskStat  *TaskStatus
}

// Heartbeat is the periodic liveness + capability report.
type Heartbeat struct {
	NodeID    string            `msgpack:"node_id"`
	Timestamp int64             `msgpack:"timestamp"`
	Snapshot  ResourceSnapshot  `msgpack:"resources"`
	Running   []string          `msgpack:"running,omitempty"`
}

// ResourceSnapshot is a periodic self-reported load measurement, included
// in every heartbeat so the Master can make scheduling decisions.
type ResourceSnapshot struct {
	RunningCount int     `msgpack:"running_count"`
	QueuedCount  int     `msgpack:"queued_count"`
	CPUPercent   float64 `msgpack:"cpu_percent"`
	MemPercent   float64 `msgpack:"mem_percent"`
}

// LogBatch is a delivered batch of log entries for one execution id.
type LogBatch struct {
	ExecutionID string     `msgpack:"execution_id"`
	Entries     []LogEntry `msgpack:"entries"`
	Compressed  bool       `msgpack:"compressed"`
}

// TaskStatus is an outbound status report, terminal or not.
type TaskStatus struct {
	RunID        string         `msgpack:"run_id"`
	TaskID       string         `msgpack:"task_id"`
	Status       string         `msgpack:"status"` // lowercase enum per spec §6
	ExitCode     int            `msgpack:"exit_code"`
	ErrorMessage string         `msgpack:"error_message,omitempty"`
	StartedAt    int64          `msgpack:"started_at"`
	FinishedAt   int64          `msgpack:"finished_at"`
	DurationMS   int64          `msgpack:"duration_ms"`
	Data         TaskStatusData `msgpack:"data"`
}

// TaskStatusData is the terminal report's embedded summary object.
type TaskStatusData struct {
	Artifacts     []Artifact `msgpack:"artifacts,omitempty"`
	LogArchiveURI string     `msgpack:"log_archive_uri,omitempty"`
	StdoutLines   int        `msgpack:"stdout_lines"`
	StderrLines   int        `msgpack:"stderr_lines"`
}

// StatusWireString converts a Status to the lowercase wire enum, aliasing
// SUCCESS to "completed" for the Master's status field per spec §9 (the
// source splits SUCCESS vs COMPLETED; this spec treats SUCCESS as canonical
// and "completed" as the wire alias).
func StatusWireString(s Status) string {
	switch s {
	case StatusSuccess:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimeout:
		return "timeout"
	default:
		return "failed"
	}
}
