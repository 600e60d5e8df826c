package worker

import (
	"context"
	"log"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/image/math/f64"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
	"github.com/kunal/gpu-warp-router/pkg/config"
	"github.com/kunal/gpu-warp-router/pkg/device"
	"github.com/kunal/gpu-warp-router/pkg/imageio"
	"github.com/kunal/gpu-warp-router/pkg/warp"
	"github.com/kunal/gpu-warp-router/pkg/worker/executor"
)

// Worker is the main worker service.
type Worker struct {
	warpv1.UnimplementedWarpServiceServer
	warpv1.UnimplementedWorkerMetricsServiceServer

	cfg     *config.Config
	queue   *PriorityQueue
	batcher *Batcher
	metrics *MetricsCollector
	exec    executor.WarpExecutor
}

// New creates a new Worker with the executor selected by cfg.
func New(cfg *config.Config) (*Worker, error) {
	exec, err := NewExecutor(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("🔧 Executor: %s on %s (%d units)", exec.Name(), exec.Device().Name(), exec.Device().Units())
	return NewWithExecutor(cfg, exec), nil
}

// NewWithExecutor creates a Worker around an existing executor.
func NewWithExecutor(cfg *config.Config, exec executor.WarpExecutor) *Worker {
	queue := NewPriorityQueue()
	batcher := NewBatcher(BatcherConfig{
		MaxBatchSize: cfg.MaxBatchSize,
		MaxWaitTime:  cfg.MaxWaitTime,
	}, queue, exec)

	return &Worker{
		cfg:     cfg,
		queue:   queue,
		batcher: batcher,
		metrics: NewMetricsCollector(cfg.WorkerID, batcher, queue, exec.Device()),
		exec:    exec,
	}
}

// RegisterGRPC registers the worker's gRPC services.
func (w *Worker) RegisterGRPC(s *grpc.Server) {
	warpv1.RegisterWarpServiceServer(s, w)
	warpv1.RegisterWorkerMetricsServiceServer(s, w)
}

// RegisterMetricsHTTP registers the /metrics HTTP endpoint.
func (w *Worker) RegisterMetricsHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", w.metrics.ServePrometheus)
	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("OK"))
	})
}

// Start starts the micro-batching engine and the metrics sampler.
func (w *Worker) Start() {
	w.batcher.Start()
	w.metrics.Start()
}

// Stop shuts down the worker gracefully.
func (w *Worker) Stop() {
	w.batcher.Stop()
	w.metrics.Stop()
}

// Warp handles a single warp request via gRPC.
// It enqueues the request into the priority queue and blocks
// until the batcher processes it and returns a result.
func (w *Worker) Warp(ctx context.Context, req *warpv1.WarpRequest) (*warpv1.WarpResponse, error) {
	sample, err := sampleFromRequest(req)
	if err != nil {
		return nil, err
	}

	w.metrics.IncrInFlight()
	defer w.metrics.DecrInFlight()

	pending := NewPendingRequest(req, sample)
	w.queue.Enqueue(pending)
	w.batcher.Signal()

	// Block until result is ready or context cancelled
	select {
	case resp := <-pending.DoneCh:
		resp.WorkerId = w.cfg.WorkerID
		if req.Encoded {
			shape := warp.TensorShape{H: int(resp.Height), W: int(resp.Width), C: int(resp.Channels)}
			png, err := imageio.EncodePNG(resp.Image, shape)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "encode result: %v", err)
			}
			resp.Image, resp.Encoded = png, true
		}
		return resp, nil
	case err := <-pending.ErrCh:
		return nil, statusFromError(err)
	case <-ctx.Done():
		w.queue.Remove(pending)
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// GetMetrics returns current device and worker metrics.
func (w *Worker) GetMetrics(ctx context.Context, req *warpv1.MetricsRequest) (*warpv1.WorkerMetrics, error) {
	return w.metrics.GetMetrics(), nil
}

// sampleFromRequest validates a request and turns it into an executor sample.
// The request matrix is the forward (input to output) transform; an empty
// matrix stretches the input over the requested output.
func sampleFromRequest(req *warpv1.WarpRequest) (executor.Sample, error) {
	out := warp.Extent{W: int(req.OutWidth), H: int(req.OutHeight)}
	if !out.Positive() {
		return executor.Sample{}, status.Errorf(codes.InvalidArgument, "output size %v is not positive", out)
	}
	var interp warp.InterpType
	switch req.Interp {
	case warpv1.Interp_NEAREST:
		interp = warp.InterpNN
	case warpv1.Interp_LINEAR:
		interp = warp.InterpLinear
	default:
		return executor.Sample{}, status.Errorf(codes.InvalidArgument, "unknown interpolation %d", req.Interp)
	}

	var (
		pix   []byte
		shape warp.TensorShape
	)
	if req.Encoded {
		var err error
		pix, shape, _, err = imageio.Decode(req.Image)
		if err != nil {
			return executor.Sample{}, status.Errorf(codes.InvalidArgument, "decode image: %v", err)
		}
	} else {
		shape = warp.TensorShape{H: int(req.Height), W: int(req.Width), C: int(req.Channels)}
		if shape.H <= 0 || shape.W <= 0 || shape.C <= 0 {
			return executor.Sample{}, status.Errorf(codes.InvalidArgument, "input shape %v is not positive", shape)
		}
		if len(req.Image) != shape.Bytes() {
			return executor.Sample{}, status.Errorf(codes.InvalidArgument,
				"image has %d bytes, shape %v needs %d", len(req.Image), shape, shape.Bytes())
		}
		pix = req.Image
	}

	var mapping warp.AffineMapping
	switch len(req.Matrix) {
	case 0:
		mapping = warp.Resize(shape.Extent(), out)
	case 6:
		var fwd f64.Aff3
		copy(fwd[:], req.Matrix)
		m, err := warp.InvertAffine(fwd)
		if err != nil {
			return executor.Sample{}, status.Error(codes.InvalidArgument, err.Error())
		}
		mapping = m
	default:
		return executor.Sample{}, status.Errorf(codes.InvalidArgument, "matrix has %d values, want 0 or 6", len(req.Matrix))
	}

	return executor.Sample{Image: pix, Shape: shape, Out: out, Mapping: mapping, Interp: interp}, nil
}

// statusFromError maps batch failures onto gRPC codes.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, warp.ErrPrecondition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, device.ErrOutOfMemory):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}
