package worker

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
	"github.com/kunal/gpu-warp-router/pkg/device"
)

const sampleInterval = 200 * time.Millisecond

// MetricsCollector reports device memory, batcher counters and device
// utilization. Utilization is the share of wall time the batcher spent
// executing batches over the last sampling window, smoothed.
type MetricsCollector struct {
	workerID string
	batcher  *Batcher
	queue    *PriorityQueue
	dev      *device.Device

	mu       sync.RWMutex
	util     float64 // percent
	lastBusy int64
	lastAt   time.Time

	inFlight atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMetricsCollector(workerID string, batcher *Batcher, queue *PriorityQueue, dev *device.Device) *MetricsCollector {
	return &MetricsCollector{
		workerID: workerID,
		batcher:  batcher,
		queue:    queue,
		dev:      dev,
		lastAt:   time.Now(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling utilization in the background.
func (mc *MetricsCollector) Start() {
	go mc.sampleLoop()
}

// Stop ends the sampling loop.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
}

func (mc *MetricsCollector) sampleLoop() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stopCh:
			return
		case now := <-ticker.C:
			mc.sample(now)
		}
	}
}

func (mc *MetricsCollector) sample(now time.Time) {
	busy := mc.batcher.BusyNs.Load()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	window := now.Sub(mc.lastAt).Nanoseconds()
	if window <= 0 {
		return
	}
	target := min(100, 100*float64(busy-mc.lastBusy)/float64(window))
	// Smooth transition (exponential decay)
	mc.util = mc.util*0.7 + target*0.3
	mc.lastBusy = busy
	mc.lastAt = now
}

// GetMetrics returns a snapshot of the worker's metrics.
func (mc *MetricsCollector) GetMetrics() *warpv1.WorkerMetrics {
	mc.mu.RLock()
	util := mc.util
	mc.mu.RUnlock()

	return &warpv1.WorkerMetrics{
		WorkerId:          mc.workerID,
		MemoryFreeMb:      float64(mc.dev.FreeBytes()) / (1 << 20),
		MemoryTotalMb:     float64(mc.dev.MemoryBytes()) / (1 << 20),
		QueueDepth:        int32(mc.queue.Depth()),
		AvgLatencyMs:      float64(mc.batcher.AvgLatencyUs.Load()) / 1000,
		DeviceUtilization: util,
		CurrentBatch:      mc.batcher.LastBatchSize.Load(),
		Healthy:           true,
		UniformBatches:    mc.batcher.UniformBatches.Load(),
		VariableBatches:   mc.batcher.VariableBatches.Load(),
		BlocksLaunched:    mc.batcher.BlocksLaunched.Load(),
	}
}

// IncrInFlight / DecrInFlight track requests waiting on a response.
func (mc *MetricsCollector) IncrInFlight() { mc.inFlight.Add(1) }
func (mc *MetricsCollector) DecrInFlight() { mc.inFlight.Add(-1) }

// ServePrometheus writes Prometheus-format metrics to HTTP response.
func (mc *MetricsCollector) ServePrometheus(w http.ResponseWriter, r *http.Request) {
	m := mc.GetMetrics()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	gauge(w, "device_memory_free_mb", "Free device memory in MB", m.WorkerId, m.MemoryFreeMb)
	gauge(w, "device_memory_total_mb", "Total device memory in MB", m.WorkerId, m.MemoryTotalMb)
	gauge(w, "device_utilization", "Device utilization percentage", m.WorkerId, m.DeviceUtilization)
	gauge(w, "worker_queue_depth", "Current queue depth", m.WorkerId, float64(m.QueueDepth))
	gauge(w, "worker_in_flight", "Requests waiting on a response", m.WorkerId, float64(mc.inFlight.Load()))
	gauge(w, "worker_avg_latency_ms", "Average batch latency", m.WorkerId, m.AvgLatencyMs)
	gauge(w, "worker_batch_size", "Last batch size", m.WorkerId, float64(m.CurrentBatch))
	counter(w, "worker_total_batches", "Total batches processed", m.WorkerId, mc.batcher.TotalBatches.Load())
	counter(w, "worker_total_requests", "Total requests processed", m.WorkerId, mc.batcher.TotalRequests.Load())
	counter(w, "worker_failed_batches", "Batches that failed as a whole", m.WorkerId, mc.batcher.FailedBatches.Load())
	counter(w, "warp_uniform_batches", "Batches dispatched in uniform mode", m.WorkerId, m.UniformBatches)
	counter(w, "warp_variable_batches", "Batches dispatched in variable mode", m.WorkerId, m.VariableBatches)
	counter(w, "warp_blocks_launched", "Variable-mode blocks launched", m.WorkerId, m.BlocksLaunched)
}

func gauge(w io.Writer, name, help, worker string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s{worker=%q} %.2f\n", name, help, name, name, worker, v)
}

func counter(w io.Writer, name, help, worker string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s{worker=%q} %d\n", name, help, name, name, worker, v)
}
