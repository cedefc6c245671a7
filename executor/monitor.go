package executor

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// sampleInterval matches spec §4.4's "samples the process every 1s".
const sampleInterval = 1 * time.Second

type limitReason int

const (
	limitNone limitReason = iota
	limitOOM
	limitCPU
)

// monitor samples a child process's RSS and cumulative CPU time and
// reports the first limit it crosses. It is the cross-platform fallback
// named in spec §4.4 ("Windows or fallback"); on Unix it runs alongside
// the process-group based kill path rather than in place of it, since Go
// has no portable way to attach hard rlimits to a not-yet-started
// exec.Cmd.
type monitor struct {
	pid        int32
	memLimit   int64 // bytes, 0 disables
	cpuLimit   time.Duration // 0 disables
	stopCh     chan struct{}
}

func newMonitor(pid int, memLimitMB, cpuLimitSeconds int) *monitor {
	m := &monitor{
		pid:    int32(pid),
		stopCh: make(chan struct{}),
	}
	if memLimitMB > 0 {
		m.memLimit = int64(memLimitMB) * 1024 * 1024
	}
	if cpuLimitSeconds > 0 {
		m.cpuLimit = time.Duration(cpuLimitSeconds) * time.Second
	}
	return m
}

// start launches the sampling loop and returns a channel that receives at
// most one limitReason (limitOOM or limitCPU) if a limit is crossed before
// stop is called.
func (m *monitor) start() <-chan limitReason {
	out := make(chan limitReason, 1)
	if m.memLimit <= 0 && m.cpuLimit <= 0 {
		return out
	}
	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		proc, err := process.NewProcess(m.pid)
		if err != nil {
			return
		}
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if reason := m.check(proc); reason != limitNone {
					out <- reason
					return
				}
			}
		}
	}()
	return out
}

func (m *monitor) check(proc *process.Process) limitReason {
	if m.memLimit > 0 {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			if int64(mem.RSS) > m.memLimit {
				return limitOOM
			}
		}
	}
	if m.cpuLimit > 0 {
		if times, err := proc.Times(); err == nil {
			used := time.Duration((times.User + times.System) * float64(time.Second))
			if used > m.cpuLimit {
				return limitCPU
			}
		}
	}
	return limitNone
}

func (m *monitor) stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}
