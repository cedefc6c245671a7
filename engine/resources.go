package engine

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/pithecene-io/workernode/scheduler"
	"github.com/pithecene-io/workernode/types"
)

// sampleResources builds the node-wide resource snapshot carried on every
// heartbeat. gopsutil failures degrade to a zero reading rather than
// aborting the heartbeat — a missing CPU/mem sample is not worth skipping
// liveness reporting over.
func sampleResources(sched *scheduler.Scheduler, state *StateManager) types.ResourceSnapshot {
	snap := types.ResourceSnapshot{
		RunningCount: len(state.RunningIDs()),
		QueuedCount:  sched.Len(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemPercent = vm.UsedPercent
	}
	return snap
}
