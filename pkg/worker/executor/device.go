package executor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/kunal/gpu-warp-router/pkg/device"
	"github.com/kunal/gpu-warp-router/pkg/warp"
)

// DeviceExecutor runs each batch through a warp engine on a device. The
// border policy type is fixed per executor; its value (such as the fill
// colour) is set at construction.
type DeviceExecutor[B warp.Border] struct {
	name   string
	dev    *device.Device
	engine *warp.Engine[warp.AffineMapping, B]
	border B

	mu sync.Mutex // one batch at a time: the engine holds the plan between Setup and Run
}

// NewDevice creates an executor on dev.
func NewDevice[B warp.Border](name string, dev *device.Device, opts warp.Options, border B) (*DeviceExecutor[B], error) {
	engine, err := warp.NewEngine[warp.AffineMapping, B](opts)
	if err != nil {
		return nil, err
	}
	return &DeviceExecutor[B]{name: name, dev: dev, engine: engine, border: border}, nil
}

func (e *DeviceExecutor[B]) Name() string { return e.name }

func (e *DeviceExecutor[B]) Device() *device.Device { return e.dev }

// ExecuteBatch uploads the batch, plans and launches it, and downloads the
// results. All device memory of the batch lives in one arena released when
// the stream is done with it.
func (e *DeviceExecutor[B]) ExecuteBatch(ctx context.Context, samples []Sample) ([]Result, BatchStats, error) {
	if len(samples) == 0 {
		return nil, BatchStats{}, errors.New("executor: empty batch")
	}
	if err := ctx.Err(); err != nil {
		return nil, BatchStats{}, err
	}
	for i, s := range samples {
		if len(s.Image) != s.Shape.Bytes() {
			return nil, BatchStats{}, errors.Errorf("executor: sample %d: %d bytes for shape %v", i, len(s.Image), s.Shape)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.dev.NewStream()
	defer st.Close()

	arena, err := e.dev.NewScratchpad(ioBytes(samples))
	if err != nil {
		return nil, BatchStats{}, errors.WithMessage(err, "executor: reserve batch memory")
	}
	defer func() {
		_ = st.Synchronize()
		_ = arena.Release()
	}()

	n := len(samples)
	in := make(warp.TensorList, n)
	sizes := make([]warp.Extent, n)
	interp := make([]warp.InterpType, n)
	maps := make([]warp.AffineMapping, n)
	for i, s := range samples {
		p, err := arena.Alloc(len(s.Image), device.Alignment)
		if err != nil {
			return nil, BatchStats{}, err
		}
		st.CopyToDevice(p, s.Image)
		in[i] = warp.Tensor{Data: p, Shape: s.Shape}
		sizes[i] = s.Out
		interp[i] = s.Interp
		maps[i] = s.Mapping
	}
	if err := st.LastError(); err != nil {
		return nil, BatchStats{}, errors.WithMessage(err, "executor: upload inputs")
	}

	pp, err := arena.Alloc(n*warp.AffineParamSize, device.Alignment)
	if err != nil {
		return nil, BatchStats{}, err
	}
	params, err := warp.UploadParams(st, pp, maps)
	if err != nil {
		return nil, BatchStats{}, err
	}

	req, err := e.engine.Setup(in, params, sizes, interp, e.border)
	if err != nil {
		return nil, BatchStats{}, err
	}
	out := make(warp.TensorList, n)
	for i, shape := range req.OutputShapes {
		p, err := arena.Alloc(shape.Bytes(), device.Alignment)
		if err != nil {
			return nil, BatchStats{}, err
		}
		out[i] = warp.Tensor{Data: p, Shape: shape}
	}

	scratch, err := e.dev.NewScratchpad(req.DeviceScratch)
	if err != nil {
		return nil, BatchStats{}, errors.WithMessage(err, "executor: reserve descriptor scratch")
	}
	err = e.engine.Run(&warp.Context{Stream: st, Scratch: scratch}, out, in, params, sizes, interp, e.border)
	scratch.ReleaseAfter(st)
	if err != nil {
		return nil, BatchStats{}, err
	}

	results := make([]Result, n)
	for i, o := range out {
		results[i] = Result{Image: make([]byte, o.Shape.Bytes()), Shape: o.Shape}
		st.CopyToHost(results[i].Image, o.Data)
	}
	if err := st.Synchronize(); err != nil {
		return nil, BatchStats{}, err
	}

	plan := e.engine.Plan()
	return results, BatchStats{Mode: plan.Mode, Blocks: len(plan.Blocks), Grid: plan.Grid}, nil
}

// ioBytes is the arena size holding a batch's inputs, mapping table and
// outputs, each allocation aligned to device.Alignment.
func ioBytes(samples []Sample) int {
	total := alignUp(len(samples)*warp.AffineParamSize, device.Alignment)
	for _, s := range samples {
		total += alignUp(s.Shape.Bytes(), device.Alignment)
		out := warp.TensorShape{H: s.Out.H, W: s.Out.W, C: s.Shape.C}
		total += alignUp(max(out.Bytes(), 0), device.Alignment)
	}
	return total
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
