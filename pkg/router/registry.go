package router

import (
	"log"
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
)

// maxFailures is the number of consecutive failures after which a worker
// is taken out of rotation until its next successful poll.
const maxFailures = 3

// WorkerEntry tracks a single worker's state. Entries returned by the
// registry are snapshots; Metrics is replaced on update, never mutated.
type WorkerEntry struct {
	Address       string
	Conn          *grpc.ClientConn
	WarpClient    warpv1.WarpServiceClient
	MetricsClient warpv1.WorkerMetricsServiceClient
	Metrics       *warpv1.WorkerMetrics
	FailCount     int
	Healthy       bool
}

// Registry manages the set of known workers.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*WorkerEntry // key: address
}

func NewRegistry(addrs []string) *Registry {
	r := &Registry{
		workers: make(map[string]*WorkerEntry, len(addrs)),
	}
	for _, addr := range addrs {
		r.workers[addr] = &WorkerEntry{
			Address: addr,
			Healthy: true,
			// Optimistic until the first poll lands
			Metrics: &warpv1.WorkerMetrics{Healthy: true},
		}
	}
	return r
}

// Connect creates gRPC clients for all workers. Connections are lazy, so a
// worker that is down only shows up as failed calls.
func (r *Registry) Connect(opts ...grpc.DialOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	for addr, entry := range r.workers {
		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			log.Printf("⚠️  Failed to connect to worker %s: %v", addr, err)
			entry.Healthy = false
			continue
		}
		entry.Conn = conn
		entry.WarpClient = warpv1.NewWarpServiceClient(conn)
		entry.MetricsClient = warpv1.NewWorkerMetricsServiceClient(conn)
		log.Printf("✅ Connected to worker %s", addr)
	}
	return nil
}

// GetHealthy returns snapshots of all healthy, connected workers.
func (r *Registry) GetHealthy() []WorkerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]WorkerEntry, 0, len(r.workers))
	for _, w := range r.workers {
		if w.Healthy && w.WarpClient != nil {
			result = append(result, *w)
		}
	}
	return sortByAddress(result)
}

// GetAll returns snapshots of all workers.
func (r *Registry) GetAll() []WorkerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]WorkerEntry, 0, len(r.workers))
	for _, w := range r.workers {
		result = append(result, *w)
	}
	return sortByAddress(result)
}

func sortByAddress(ws []WorkerEntry) []WorkerEntry {
	sort.Slice(ws, func(i, j int) bool { return ws[i].Address < ws[j].Address })
	return ws
}

// UpdateMetrics updates the cached metrics for a worker.
func (r *Registry) UpdateMetrics(addr string, m *warpv1.WorkerMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[addr]; ok {
		if !w.Healthy && m.Healthy {
			log.Printf("💚 Worker %s is back", addr)
		}
		w.Metrics = m
		w.FailCount = 0
		w.Healthy = m.Healthy
	}
}

// MarkFailed increments the fail count for a worker.
// After maxFailures consecutive failures, the worker is marked unhealthy.
func (r *Registry) MarkFailed(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[addr]; ok {
		w.FailCount++
		if w.FailCount >= maxFailures && w.Healthy {
			w.Healthy = false
			log.Printf("❌ Worker %s marked UNHEALTHY (%d consecutive failures)", addr, w.FailCount)
		}
	}
}

// MarkHealthy resets a worker to healthy state.
func (r *Registry) MarkHealthy(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[addr]; ok {
		w.FailCount = 0
		w.Healthy = true
	}
}

// Close shuts down all gRPC connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.Conn != nil {
			w.Conn.Close()
		}
	}
}
