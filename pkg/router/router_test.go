package router

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
	"github.com/kunal/gpu-warp-router/pkg/config"
)

// =============================================================================
// Scoring
// =============================================================================

func TestScore(t *testing.T) {
	idle := &warpv1.WorkerMetrics{Healthy: true, MemoryFreeMb: 512, MemoryTotalMb: 512}
	tests := []struct {
		name string
		m    *warpv1.WorkerMetrics
		want float64
	}{
		{"nil", nil, -1000},
		{"unhealthy", &warpv1.WorkerMetrics{MemoryFreeMb: 512, MemoryTotalMb: 512}, -1000},
		{"idle", idle, 100},
		{"half memory", &warpv1.WorkerMetrics{Healthy: true, MemoryFreeMb: 256, MemoryTotalMb: 512}, 50},
		{"queued", &warpv1.WorkerMetrics{Healthy: true, MemoryFreeMb: 512, MemoryTotalMb: 512, QueueDepth: 40, AvgLatencyMs: 20}, 100 - 4 - 2},
		{"busy", &warpv1.WorkerMetrics{Healthy: true, MemoryFreeMb: 512, MemoryTotalMb: 512, DeviceUtilization: 50}, 75},
		{"low memory", &warpv1.WorkerMetrics{Healthy: true, MemoryFreeMb: 32, MemoryTotalMb: 128}, 25 - 50},
		{"no memory report", &warpv1.WorkerMetrics{Healthy: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.m); got != tt.want {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_FailuresAndRecovery(t *testing.T) {
	r := NewRegistry([]string{"b", "a"})
	r.workers["a"].WarpClient = warpv1.NewWarpServiceClient(nil)
	r.workers["b"].WarpClient = warpv1.NewWarpServiceClient(nil)

	if all := r.GetAll(); len(all) != 2 || all[0].Address != "a" {
		t.Fatalf("GetAll = %+v", all)
	}

	r.MarkFailed("a")
	r.MarkFailed("a")
	if len(r.GetHealthy()) != 2 {
		t.Error("worker unhealthy before the third failure")
	}
	r.MarkFailed("a")
	if h := r.GetHealthy(); len(h) != 1 || h[0].Address != "b" {
		t.Errorf("GetHealthy = %+v, want only b", h)
	}

	r.UpdateMetrics("a", &warpv1.WorkerMetrics{WorkerId: "wa", Healthy: true})
	h := r.GetHealthy()
	if len(h) != 2 || h[0].Metrics.WorkerId != "wa" || h[0].FailCount != 0 {
		t.Errorf("after a successful poll GetHealthy = %+v", h)
	}

	r.UpdateMetrics("b", &warpv1.WorkerMetrics{Healthy: false})
	if len(r.GetHealthy()) != 1 {
		t.Error("self-reported unhealthy worker still routable")
	}
	r.MarkHealthy("b")
	if len(r.GetHealthy()) != 2 {
		t.Error("MarkHealthy did not restore the worker")
	}
}

// =============================================================================
// Forwarding
// =============================================================================

type fakeWorker struct {
	warpv1.UnimplementedWarpServiceServer
	warpv1.UnimplementedWorkerMetricsServiceServer

	id    string
	code  codes.Code
	calls atomic.Int32
}

func (f *fakeWorker) Warp(_ context.Context, req *warpv1.WarpRequest) (*warpv1.WarpResponse, error) {
	f.calls.Add(1)
	if f.code != codes.OK {
		return nil, status.Error(f.code, "fake failure")
	}
	return &warpv1.WarpResponse{RequestId: req.RequestId, WorkerId: f.id, Width: req.OutWidth}, nil
}

func (f *fakeWorker) GetMetrics(context.Context, *warpv1.MetricsRequest) (*warpv1.WorkerMetrics, error) {
	return &warpv1.WorkerMetrics{WorkerId: f.id, Healthy: true, MemoryFreeMb: 100, MemoryTotalMb: 100, QueueDepth: 3}, nil
}

// startCluster serves the fake workers over bufconn and builds a router
// pointing at them.
func startCluster(t *testing.T, workers ...*fakeWorker) *Router {
	t.Helper()
	listeners := make(map[string]*bufconn.Listener, len(workers))
	cfg := &config.Config{PollInterval: time.Hour}
	for _, w := range workers {
		lis := bufconn.Listen(1 << 20)
		s := grpc.NewServer()
		warpv1.RegisterWarpServiceServer(s, w)
		warpv1.RegisterWorkerMetricsServiceServer(s, w)
		go s.Serve(lis)
		t.Cleanup(s.Stop)
		listeners[w.id] = lis
		cfg.WorkerEndpoints = append(cfg.WorkerEndpoints, "passthrough:///"+w.id)
	}

	r, err := New(cfg, grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		lis, ok := listeners[addr]
		if !ok {
			return nil, net.UnknownNetworkError(addr)
		}
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.registry.Close)
	return r
}

func TestRouter_Forwards(t *testing.T) {
	w1, w2 := &fakeWorker{id: "w1"}, &fakeWorker{id: "w2"}
	r := startCluster(t, w1, w2)

	for i := range 20 {
		resp, err := r.Warp(context.Background(), &warpv1.WarpRequest{RequestId: "r", OutWidth: int32(i + 1)})
		if err != nil {
			t.Fatalf("Warp: %v", err)
		}
		if resp.Width != int32(i+1) || (resp.WorkerId != "w1" && resp.WorkerId != "w2") {
			t.Fatalf("response = %+v", resp)
		}
	}
	if got := w1.calls.Load() + w2.calls.Load(); got != 20 {
		t.Errorf("workers saw %d calls, want 20", got)
	}

	st := r.State()
	if st.TotalRequests != 20 {
		t.Errorf("TotalRequests = %d", st.TotalRequests)
	}
	var routed int64
	for _, n := range st.RoutingDistribution {
		routed += n
	}
	if routed != 20 {
		t.Errorf("routing distribution sums to %d", routed)
	}
}

func TestRouter_RetriesOnAnotherWorker(t *testing.T) {
	bad, good := &fakeWorker{id: "bad", code: codes.Internal}, &fakeWorker{id: "good"}
	r := startCluster(t, bad, good)

	for range 10 {
		resp, err := r.Warp(context.Background(), &warpv1.WarpRequest{RequestId: "r", OutWidth: 4})
		if err != nil {
			t.Fatalf("Warp: %v", err)
		}
		if resp.WorkerId != "good" {
			t.Fatalf("served by %q", resp.WorkerId)
		}
	}
	if good.calls.Load() != 10 {
		t.Errorf("good worker saw %d calls, want 10", good.calls.Load())
	}
	// Once three strikes land the bad worker leaves the rotation.
	if bad.calls.Load() > 3 {
		t.Errorf("bad worker saw %d calls after being marked unhealthy", bad.calls.Load())
	}
}

func TestRouter_AllWorkersFail(t *testing.T) {
	bad := &fakeWorker{id: "bad", code: codes.Unavailable}
	r := startCluster(t, bad)

	for i := range 3 {
		_, err := r.Warp(context.Background(), &warpv1.WarpRequest{RequestId: "r"})
		if status.Code(err) != codes.Unavailable || !strings.Contains(err.Error(), "all workers failed") {
			t.Fatalf("call %d: error = %v", i, err)
		}
	}
	_, err := r.Warp(context.Background(), &warpv1.WarpRequest{RequestId: "r"})
	if status.Code(err) != codes.Unavailable || !strings.Contains(err.Error(), "no healthy workers") {
		t.Errorf("error = %v, want no healthy workers", err)
	}
	if bad.calls.Load() != 3 {
		t.Errorf("bad worker saw %d calls, want 3", bad.calls.Load())
	}
}

func TestRouter_InvalidArgumentNotRetried(t *testing.T) {
	picky := &fakeWorker{id: "picky", code: codes.InvalidArgument}
	r := startCluster(t, picky)

	for range 5 {
		_, err := r.Warp(context.Background(), &warpv1.WarpRequest{RequestId: "r"})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("error = %v, want InvalidArgument", err)
		}
	}
	if h := r.registry.GetHealthy(); len(h) != 1 || h[0].FailCount != 0 {
		t.Errorf("client errors counted against the worker: %+v", h)
	}
}

func TestPoller_PollAll(t *testing.T) {
	r := startCluster(t, &fakeWorker{id: "w1"})
	r.poller.PollAll()

	st := r.State()
	if len(st.Workers) != 1 || st.Workers[0].ID != "w1" || st.Workers[0].QueueDepth != 3 {
		t.Fatalf("state after poll = %+v", st.Workers)
	}
	if got := st.Workers[0].Score; got < 99.69 || got > 99.71 {
		t.Errorf("score = %v, want 99.7", got)
	}
}

// =============================================================================
// Dashboard
// =============================================================================

func TestBroadcaster_PushesState(t *testing.T) {
	r := startCluster(t, &fakeWorker{id: "w1"})
	mux := http.NewServeMux()
	r.RegisterHTTP(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for r.broadcaster.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.broadcaster.Broadcast(r.State())
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var st ClusterState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Workers) != 1 || st.Workers[0].Address != "passthrough:///w1" {
		t.Errorf("pushed state = %+v", st)
	}

	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("dashboard = %d", res.StatusCode)
	}
}
