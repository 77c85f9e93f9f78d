package infrastructure

import (
	"runtime"
	"time"
)

// SystemStats is a snapshot of process resource usage
type SystemStats struct {
	GoRoutines      int64         `json:"goroutines"`
	MemoryUsage     int64         `json:"memory_usage_bytes"`
	MemoryAllocated int64         `json:"memory_allocated_bytes"`
	MemorySystem    int64         `json:"memory_system_bytes"`
	GCCount         uint32        `json:"gc_count"`
	CPUCount        int           `json:"cpu_count"`
	ProcessUptime   time.Duration `json:"uptime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// CollectSystemStats reads runtime statistics. startTime is the process
// start used for the uptime.
func CollectSystemStats(startTime time.Time) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemStats{
		GoRoutines:      int64(runtime.NumGoroutine()),
		MemoryUsage:     int64(memStats.Alloc),
		MemoryAllocated: int64(memStats.TotalAlloc),
		MemorySystem:    int64(memStats.Sys),
		GCCount:         memStats.NumGC,
		CPUCount:        runtime.NumCPU(),
		ProcessUptime:   time.Since(startTime),
		Timestamp:       time.Now(),
	}
}

// FormatStats returns a human-readable representation of system stats
func (stats *SystemStats) FormatStats() map[string]interface{} {
	return map[string]interface{}{
		"goroutines":      stats.GoRoutines,
		"memory_usage_mb": stats.MemoryUsage / 1024 / 1024,
		"memory_sys_mb":   stats.MemorySystem / 1024 / 1024,
		"gc_count":        stats.GCCount,
		"cpu_count":       stats.CPUCount,
		"uptime_seconds":  int64(stats.ProcessUptime.Seconds()),
	}
}
