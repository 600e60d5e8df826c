package router

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
	"github.com/kunal/gpu-warp-router/pkg/config"
)

//go:embed dashboard/*
var dashboardFS embed.FS

const (
	maxAttempts       = 3
	topN              = 3
	broadcastInterval = 500 * time.Millisecond
)

// Router is the main routing service.
type Router struct {
	warpv1.UnimplementedWarpServiceServer

	cfg         *config.Config
	registry    *Registry
	poller      *Poller
	broadcaster *Broadcaster

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Routing stats
	routingDistribution map[string]*atomic.Int64
	totalRequests       atomic.Int64
}

// New creates a new Router. Extra dial options are applied to every worker
// connection.
func New(cfg *config.Config, dialOpts ...grpc.DialOption) (*Router, error) {
	if len(cfg.WorkerEndpoints) == 0 {
		return nil, fmt.Errorf("no worker endpoints configured (set WORKER_ENDPOINTS)")
	}

	registry := NewRegistry(cfg.WorkerEndpoints)
	r := &Router{
		cfg:                 cfg,
		registry:            registry,
		broadcaster:         NewBroadcaster(),
		stopCh:              make(chan struct{}),
		routingDistribution: make(map[string]*atomic.Int64, len(cfg.WorkerEndpoints)),
	}
	for _, addr := range cfg.WorkerEndpoints {
		r.routingDistribution[addr] = &atomic.Int64{}
	}

	if err := registry.Connect(dialOpts...); err != nil {
		return nil, fmt.Errorf("failed to connect to workers: %w", err)
	}
	r.poller = NewPoller(registry, cfg.PollInterval)
	return r, nil
}

// RegisterGRPC registers the router's gRPC service.
func (r *Router) RegisterGRPC(s *grpc.Server) {
	warpv1.RegisterWarpServiceServer(s, r)
}

// RegisterHTTP registers the dashboard and WebSocket endpoints.
func (r *Router) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/ws", r.broadcaster.HandleWS)

	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Serve embedded dashboard files
	dashContent, err := fs.Sub(dashboardFS, "dashboard")
	if err != nil {
		log.Printf("⚠️  Dashboard files not found, skipping")
		return
	}
	mux.Handle("/", http.FileServer(http.FS(dashContent)))
}

// Start starts the metrics poller and the dashboard broadcast loop.
func (r *Router) Start() {
	r.poller.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(broadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.broadcaster.Broadcast(r.State())
			}
		}
	}()
}

// Stop shuts down the router.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		r.poller.Stop()
		r.registry.Close()
	})
}

// Warp routes a warp request to the best available worker. Requests the
// worker rejected as invalid are returned as-is; transport and device
// failures are retried on another worker.
func (r *Router) Warp(ctx context.Context, req *warpv1.WarpRequest) (*warpv1.WarpResponse, error) {
	r.totalRequests.Add(1)

	tried := make(map[string]bool, maxAttempts)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		worker, ok := r.pickBestWorker(tried)
		if !ok {
			break
		}
		tried[worker.Address] = true

		resp, err := worker.WarpClient.Warp(ctx, req)
		if err == nil {
			if counter, ok := r.routingDistribution[worker.Address]; ok {
				counter.Add(1)
			}
			return resp, nil
		}
		if !retryable(ctx, err) {
			return nil, err
		}

		log.Printf("⚠️  Worker %s failed (attempt %d): %v", worker.Address, attempt+1, err)
		r.registry.MarkFailed(worker.Address)
		lastErr = err
	}

	if lastErr == nil {
		return nil, status.Error(codes.Unavailable, "no healthy workers available")
	}
	return nil, status.Errorf(codes.Unavailable, "all workers failed: %v", lastErr)
}

// retryable reports whether a worker error is worth another worker.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.Internal, codes.Unknown, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}

// pickBestWorker selects a worker by weighted random among the top-3 by
// score, skipping workers already tried for this request.
func (r *Router) pickBestWorker(exclude map[string]bool) (WorkerEntry, bool) {
	type scored struct {
		worker WorkerEntry
		score  float64
	}
	var candidates []scored
	for _, w := range r.registry.GetHealthy() {
		if !exclude[w.Address] {
			candidates = append(candidates, scored{worker: w, score: Score(w.Metrics)})
		}
	}
	if len(candidates) == 0 {
		return WorkerEntry{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	top := candidates[:min(topN, len(candidates))]

	// Shift scores to be positive (min score becomes 1)
	minScore := top[len(top)-1].score
	totalWeight := 0.0
	weights := make([]float64, len(top))
	for i, c := range top {
		weights[i] = c.score - minScore + 1
		totalWeight += weights[i]
	}

	pick := rand.Float64() * totalWeight
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if pick <= cumulative {
			return top[i].worker, true
		}
	}
	return top[0].worker, true
}

// State snapshots the cluster for the dashboard.
func (r *Router) State() *ClusterState {
	workers := r.registry.GetAll()
	state := &ClusterState{
		Workers:             make([]WorkerState, 0, len(workers)),
		RoutingDistribution: make(map[string]int64, len(r.routingDistribution)),
		TotalRequests:       r.totalRequests.Load(),
	}

	for _, w := range workers {
		ws := WorkerState{
			Address: w.Address,
			Healthy: w.Healthy,
		}
		if m := w.Metrics; m != nil {
			ws.ID = m.WorkerId
			ws.Score = Score(m)
			ws.MemoryFreeMB = m.MemoryFreeMb
			ws.MemoryTotalMB = m.MemoryTotalMb
			ws.DeviceUtilization = m.DeviceUtilization
			ws.QueueDepth = m.QueueDepth
			ws.AvgLatencyMs = m.AvgLatencyMs
			ws.CurrentBatch = m.CurrentBatch
			ws.UniformBatches = m.UniformBatches
			ws.VariableBatches = m.VariableBatches
			ws.BlocksLaunched = m.BlocksLaunched
		}
		state.Workers = append(state.Workers, ws)
	}

	for addr, counter := range r.routingDistribution {
		state.RoutingDistribution[addr] = counter.Load()
	}
	return state
}
