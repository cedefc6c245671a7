package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pithecene-io/workernode/metrics"
)

// debugStatus is the JSON body served at /status on the debug listener.
type debugStatus struct {
	Metrics           metrics.Snapshot `json:"metrics"`
	SchedulerDepth    int              `json:"scheduler_depth"`
	PriorityHistogram map[int]int      `json:"priority_histogram"`
	RunningCount      int              `json:"running_count"`
	MaxConcurrent     int              `json:"max_concurrent"`
}

// ListenDebug starts the ambient status/debug HTTP surface on addr (e.g.
// "127.0.0.1:9191"). addr empty or unset means disabled — this endpoint
// exposes operational visibility only, never a Master-facing wire message.
// The returned listener is owned by the caller; call its Close to stop
// serving.
func (e *Engine) ListenDebug(addr string) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", e.handleDebugStatus)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return ln, nil
}

func (e *Engine) handleDebugStatus(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	maxConcurrent := e.maxConcurrent
	e.mu.Unlock()

	status := debugStatus{
		Metrics:           e.deps.Collector.Snapshot(),
		SchedulerDepth:    e.deps.Scheduler.Len(),
		PriorityHistogram: e.deps.Scheduler.PriorityHistogram(),
		RunningCount:      len(e.state.RunningIDs()),
		MaxConcurrent:     maxConcurrent,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
