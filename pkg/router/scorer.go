package router

import (
	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
)

// lowMemoryMB is the free device memory below which a worker is likely to
// fail large batches with out-of-memory.
const lowMemoryMB = 64

// Score calculates a routing score for a worker based on its current metrics.
// Higher score = better candidate.
//
// Formula:
//   - (memory_free / memory_total) * 100  → more free device memory = better
//   - (queue_depth / 10)                  → longer queue = worse
//   - (avg_latency_ms / 10)               → higher latency = worse
//   - (device_utilization / 100) * 50     → busier device = worse
//   - 50 if memory_free < 64 MB           → allocation pressure penalty
func Score(m *warpv1.WorkerMetrics) float64 {
	if m == nil || !m.Healthy {
		return -1000
	}

	score := 0.0

	// Memory headroom (0-100 points)
	if m.MemoryTotalMb > 0 {
		score += (m.MemoryFreeMb / m.MemoryTotalMb) * 100
		if m.MemoryFreeMb < lowMemoryMB {
			score -= 50
		}
	}

	// Queue depth penalty
	score -= float64(m.QueueDepth) / 10

	// Latency penalty
	score -= m.AvgLatencyMs / 10

	// Device utilization penalty (0-50 points)
	score -= (m.DeviceUtilization / 100) * 50

	return score
}
