package health

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostMetrics is a point-in-time view of the machine running the cameras
type HostMetrics struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	MemoryUsedBytes    uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	LoadAvg1m          float64 `json:"load_1m"`
	LoadAvg5m          float64 `json:"load_5m"`
	LoadAvg15m         float64 `json:"load_15m"`
}

// CollectHost samples cpu, memory and load. Unavailable readings stay zero.
func CollectHost() *HostMetrics {
	m := &HostMetrics{}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsagePercent = cpuPercent[0]
	}

	if memStats, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsagePercent = memStats.UsedPercent
		m.MemoryUsedBytes = memStats.Used
		m.MemoryTotalBytes = memStats.Total
	}

	// not available on every platform
	if loadStats, err := load.Avg(); err == nil {
		m.LoadAvg1m = loadStats.Load1
		m.LoadAvg5m = loadStats.Load5
		m.LoadAvg15m = loadStats.Load15
	}

	return m
}
