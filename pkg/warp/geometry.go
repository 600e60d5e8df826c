package warp

import (
	"github.com/kunal/gpu-warp-router/pkg/device"
)

// Options holds the tunables of an engine.
type Options struct {
	// TileSize bounds the output region of one unit in variable mode.
	TileSize Extent

	// UnitSize is the output region of one unit in uniform mode.
	UnitSize Extent

	// Threads is the thread shape of every unit.
	Threads device.Dim3
}

// DefaultOptions returns the default tunables.
func DefaultOptions() Options {
	return Options{
		TileSize: DefaultTileSize,
		UnitSize: Extent{W: 32, H: 32},
		Threads:  device.Dim3{X: 32, Y: 8, Z: 1},
	}
}

func (o Options) validate() error {
	switch {
	case !o.TileSize.Positive():
		return preconditionf("tile size %v is not positive", o.TileSize)
	case !o.UnitSize.Positive():
		return preconditionf("unit size %v is not positive", o.UnitSize)
	case o.Threads.X <= 0 || o.Threads.Y <= 0 || o.Threads.Z <= 0:
		return preconditionf("thread shape %v is not positive", o.Threads)
	case o.Threads.Size() > device.MaxThreadsPerUnit:
		return preconditionf("thread shape %v exceeds %d threads", o.Threads, device.MaxThreadsPerUnit)
	}
	return nil
}

// uniformGeometry lays a grid of unit-sized regions over the shared extent,
// replicated once per sample along Z.
func uniformGeometry(shared Extent, samples int, o Options) (grid, block device.Dim3) {
	grid = device.Dim3{
		X: ceilDiv(shared.W, o.UnitSize.W),
		Y: ceilDiv(shared.H, o.UnitSize.H),
		Z: samples,
	}
	return grid, o.Threads
}

// variableGeometry assigns one unit per block descriptor.
func variableGeometry(blocks int, o Options) (grid, block device.Dim3) {
	return device.Dim3{X: blocks, Y: 1, Z: 1}, o.Threads
}
