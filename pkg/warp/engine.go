package warp

import (
	"github.com/pkg/errors"

	"github.com/kunal/gpu-warp-router/pkg/device"
)

// Mode is the execution strategy chosen for a batch.
type Mode int

const (
	ModeUniform Mode = iota
	ModeVariable
)

func (m Mode) String() string {
	if m == ModeUniform {
		return "uniform"
	}
	return "variable"
}

// BatchPlan is the result of Setup, consumed by the Run that follows it.
type BatchPlan struct {
	Mode         Mode
	OutputSizes  []Extent
	OutputShapes []TensorShape
	Uniform      Extent      // shared output extent, uniform mode only
	Blocks       []BlockDesc // variable mode only
	Grid         device.Dim3
	Block        device.Dim3
}

// Requirements is what the caller must provision before Run.
type Requirements struct {
	// OutputShapes is the shape of every output tensor.
	OutputShapes []TensorShape

	// HostScratch is the size of the host staging buffer Run builds.
	HostScratch int

	// DeviceScratch is the minimum scratchpad capacity Run needs.
	DeviceScratch int
}

// Stream is the device work queue a batch is issued on. *device.Stream
// implements it.
type Stream interface {
	Stager
	Launch(grid, block device.Dim3, k device.KernelFunc)
}

// Context carries the per-batch resources of a Run.
type Context struct {
	// Stream receives the staging copy and the kernel launch, in that order.
	Stream Stream

	// Scratch holds the staged descriptors. It must belong to the device
	// that owns the tensors and stay alive until the stream has executed
	// the launch.
	Scratch *device.Scratchpad
}

// Engine dispatches batches of warps with mapping policy M and border
// policy B.
//
// Setup and Run must be called in that order for each batch shape; Run
// rejects shapes that differ from the preceding Setup. An Engine is not safe
// for concurrent use: run concurrent batches on separate engines, streams
// and scratchpads.
type Engine[M Mapping[M], B Border] struct {
	opts Options
	plan *BatchPlan
}

// NewEngine creates an engine with the given tunables.
func NewEngine[M Mapping[M], B Border](opts Options) (*Engine[M, B], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Engine[M, B]{opts: opts}, nil
}

func (e *Engine[M, B]) recordSize() int {
	var zero M
	return zero.ParamSize()
}

// Options returns the engine's tunables.
func (e *Engine[M, B]) Options() Options { return e.opts }

// Plan returns the plan computed by the last successful Setup, or nil.
func (e *Engine[M, B]) Plan() *BatchPlan { return e.plan }

// Setup plans a batch. It performs no device work.
func (e *Engine[M, B]) Setup(in TensorList, params ParamTable, sizes []Extent, interp []InterpType, border B) (Requirements, error) {
	e.plan = nil
	if len(in) != len(sizes) {
		return Requirements{}, preconditionf("%d inputs but %d output sizes", len(in), len(sizes))
	}
	if err := checkInputs(in, params, e.recordSize(), interp); err != nil {
		return Requirements{}, err
	}
	uniform, shared, err := AnalyzeShapes(sizes)
	if err != nil {
		return Requirements{}, err
	}

	plan := &BatchPlan{
		OutputSizes:  append([]Extent(nil), sizes...),
		OutputShapes: make([]TensorShape, len(sizes)),
	}
	for i, s := range sizes {
		plan.OutputShapes[i] = TensorShape{H: s.H, W: s.W, C: in[i].Shape.C}
	}

	sampleBytes := len(in) * SampleDescSize
	req := Requirements{OutputShapes: plan.OutputShapes}
	if uniform {
		plan.Mode = ModeUniform
		plan.Uniform = shared
		plan.Grid, plan.Block = uniformGeometry(shared, len(in), e.opts)
		req.HostScratch = sampleBytes
		req.DeviceScratch = stagedBytes(sampleBytes)
	} else {
		blocks, err := Partition(sizes, e.opts.TileSize)
		if err != nil {
			return Requirements{}, err
		}
		plan.Mode = ModeVariable
		plan.Blocks = blocks
		plan.Grid, plan.Block = variableGeometry(len(blocks), e.opts)
		blockBytes := len(blocks) * BlockDescSize
		req.HostScratch = alignUp(sampleBytes, descAlign) + blockBytes
		req.DeviceScratch = stagedBytes(sampleBytes, blockBytes)
	}

	e.plan = plan
	slogger().Debug("batch planned",
		"mode", plan.Mode.String(),
		"samples", len(in),
		"blocks", len(plan.Blocks),
		"grid", plan.Grid.String(),
		"scratch", req.DeviceScratch)
	return req, nil
}

// Run stages the batch descriptors and launches the kernel chosen by Setup.
// It returns as soon as the work is enqueued; completion is observed through
// the stream. Any enqueue error reported by the stream fails the batch at the
// step that caused it.
func (e *Engine[M, B]) Run(ctx *Context, out, in TensorList, params ParamTable, sizes []Extent, interp []InterpType, border B) error {
	if err := e.validateOutput(out, in, sizes); err != nil {
		return err
	}
	if err := checkInputs(in, params, e.recordSize(), interp); err != nil {
		return err
	}
	if ctx == nil || ctx.Stream == nil || ctx.Scratch == nil {
		return preconditionf("run needs a stream and a scratchpad")
	}
	plan := e.plan
	samples := prepareSamples(out, in, params, interp)
	args := kernelArgs[B]{
		mem:      ctx.Scratch.Device(),
		nSamples: len(samples),
		border:   border,
	}

	var k device.KernelFunc
	var err error
	if plan.Mode == ModeUniform {
		args.samples, err = ToDevice(ctx.Stream, ctx.Scratch, EncodeSamples(samples))
		if err != nil {
			return err
		}
		args.uniform = plan.Uniform
		args.unit = e.opts.UnitSize
		k = uniformKernel[M](args)
	} else {
		args.samples, args.blocks, err = ToContiguousDevice(ctx.Stream, ctx.Scratch,
			EncodeSamples(samples), EncodeBlocks(plan.Blocks))
		if err != nil {
			return err
		}
		args.nBlocks = len(plan.Blocks)
		k = variableKernel[M](args)
	}

	ctx.Stream.Launch(plan.Grid, plan.Block, k)
	if err := ctx.Stream.LastError(); err != nil {
		return errors.WithMessagef(err, "launch %s kernel", plan.Mode)
	}
	slogger().Debug("batch launched", "mode", plan.Mode.String(), "grid", plan.Grid.String())
	return nil
}

// validateOutput checks that the batch still matches the plan from Setup.
func (e *Engine[M, B]) validateOutput(out, in TensorList, sizes []Extent) error {
	plan := e.plan
	if plan == nil {
		return preconditionf("run without setup")
	}
	n := len(plan.OutputSizes)
	if len(sizes) != n || len(in) != n || len(out) != n {
		return preconditionf("batch of %d planned, got %d inputs, %d outputs, %d sizes", n, len(in), len(out), len(sizes))
	}
	for i := range sizes {
		if sizes[i] != plan.OutputSizes[i] {
			return preconditionf("sample %d: output size %v differs from setup %v", i, sizes[i], plan.OutputSizes[i])
		}
		if out[i].Shape != plan.OutputShapes[i] {
			return preconditionf("sample %d: output shape %v, expected %v", i, out[i].Shape, plan.OutputShapes[i])
		}
		if in[i].Shape.C != out[i].Shape.C {
			return preconditionf("sample %d: %d input channels but %d output channels", i, in[i].Shape.C, out[i].Shape.C)
		}
		if out[i].Data == device.Null {
			return preconditionf("sample %d: output has no device memory", i)
		}
	}
	return nil
}

func checkInputs(in TensorList, params ParamTable, recordSize int, interp []InterpType) error {
	if len(in) == 0 {
		return preconditionf("empty batch")
	}
	for i, t := range in {
		s := t.Shape
		if s.H <= 0 || s.W <= 0 || s.C <= 0 {
			return preconditionf("sample %d: input shape %v is not positive", i, s)
		}
		if t.Data == device.Null {
			return preconditionf("sample %d: input has no device memory", i)
		}
	}
	if len(interp) != len(in) && len(interp) != 1 {
		return preconditionf("%d interpolation modes for %d samples", len(interp), len(in))
	}
	for i, t := range interp {
		if t != InterpNN && t != InterpLinear {
			return preconditionf("interpolation %d: unknown mode %v", i, t)
		}
	}
	if params.RecordSize != recordSize {
		return preconditionf("mapping records of %d bytes, policy expects %d", params.RecordSize, recordSize)
	}
	if params.Count < len(in) {
		return preconditionf("%d mapping records for %d samples", params.Count, len(in))
	}
	if params.Data == device.Null {
		return preconditionf("mapping parameters have no device memory")
	}
	return nil
}

// prepareSamples builds the per-sample descriptors for Run.
func prepareSamples(out, in TensorList, params ParamTable, interp []InterpType) []SampleDesc {
	samples := make([]SampleDesc, len(in))
	for i := range in {
		it := interp[0]
		if len(interp) > 1 {
			it = interp[i]
		}
		samples[i] = SampleDesc{
			In:       regionOf(in[i]),
			Out:      regionOf(out[i]),
			Params:   params.Record(i),
			Channels: int32(in[i].Shape.C),
			Interp:   it,
		}
	}
	return samples
}

func regionOf(t Tensor) Region {
	return Region{
		Data:   t.Data,
		Width:  int32(t.Shape.W),
		Height: int32(t.Shape.H),
		Stride: int32(t.Shape.W * t.Shape.C),
	}
}
