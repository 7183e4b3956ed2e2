package executor

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PoolStats combines worker pool occupancy with host resource usage
type PoolStats struct {
	Workers       int       `json:"workers"`
	RunningTasks  int       `json:"running_tasks"`
	QueueDepth    int       `json:"queue_depth"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Stats samples current pool occupancy and host CPU/memory usage
func (e *Executor) Stats() PoolStats {
	stats := PoolStats{
		Workers:      e.cfg.Workers,
		RunningTasks: int(e.running.Load()),
		QueueDepth:   len(e.queue),
		CollectedAt:  time.Now(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	}

	return stats
}
