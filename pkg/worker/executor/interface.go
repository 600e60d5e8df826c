package executor

import (
	"context"

	"github.com/kunal/gpu-warp-router/pkg/device"
	"github.com/kunal/gpu-warp-router/pkg/warp"
)

// Sample is one warp task of a batch: a packed HWC uint8 image, the output
// extent to produce and the output-to-input mapping.
type Sample struct {
	Image   []byte
	Shape   warp.TensorShape
	Out     warp.Extent
	Mapping warp.AffineMapping
	Interp  warp.InterpType
}

// Result is the warped image of one sample.
type Result struct {
	Image []byte
	Shape warp.TensorShape
}

// BatchStats describes how a batch was dispatched.
type BatchStats struct {
	Mode   warp.Mode
	Blocks int
	Grid   device.Dim3
}

// WarpExecutor runs a batch of warps. A batch either succeeds for every
// sample or fails as a whole.
type WarpExecutor interface {
	ExecuteBatch(ctx context.Context, samples []Sample) ([]Result, BatchStats, error)

	// Device returns the device the executor runs on.
	Device() *device.Device

	// Name returns the executor type for logging.
	Name() string
}
