package device

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Dim3 is a 3D launch extent or index.
type Dim3 struct {
	X, Y, Z int
}

// Size returns X*Y*Z.
func (d Dim3) Size() int { return d.X * d.Y * d.Z }

func (d Dim3) String() string { return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z) }

// Unit identifies one execution unit (thread block) of a launch.
type Unit struct {
	BlockIdx Dim3
	BlockDim Dim3
	GridDim  Dim3
}

// Linear returns the unit's row-major index within the grid.
func (u Unit) Linear() int {
	return (u.BlockIdx.Z*u.GridDim.Y+u.BlockIdx.Y)*u.GridDim.X + u.BlockIdx.X
}

// KernelFunc is the body of a kernel, executed once per unit.
type KernelFunc func(u Unit) error

// Launch enqueues a kernel over grid units of block threads each. Invalid
// geometry is reported through LastError without enqueueing anything.
func (s *Stream) Launch(grid, block Dim3, k KernelFunc) {
	if err := validateLaunch(grid, block, k); err != nil {
		s.recordEnqueue(err)
		return
	}
	s.submit(func() {
		if err := s.dev.run(grid, block, k); err != nil {
			s.fail(err)
		}
	}, true)
}

func validateLaunch(grid, block Dim3, k KernelFunc) error {
	switch {
	case k == nil:
		return errors.Wrap(ErrLaunch, "nil kernel")
	case grid.X <= 0 || grid.Y <= 0 || grid.Z <= 0:
		return errors.Wrapf(ErrLaunch, "invalid grid %v", grid)
	case block.X <= 0 || block.Y <= 0 || block.Z <= 0:
		return errors.Wrapf(ErrLaunch, "invalid block %v", block)
	case block.Size() > MaxThreadsPerUnit:
		return errors.Wrapf(ErrLaunch, "block %v exceeds %d threads", block, MaxThreadsPerUnit)
	}
	return nil
}

// run executes every unit of the grid. Workers pull unit indices from a
// shared counter, so a slow unit never holds back the rest of the grid. The
// first failing unit cancels the launch.
func (d *Device) run(grid, block Dim3, k KernelFunc) error {
	total := grid.Size()
	workers := d.units
	if total < workers {
		workers = total
	}
	slogger().Debug("kernel launch", "grid", grid.String(), "block", block.String(), "workers", workers)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(workers)

	var next atomic.Int64
	for range workers {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				i := int(next.Add(1) - 1)
				if i >= total {
					return nil
				}
				u := Unit{BlockIdx: unravel(i, grid), BlockDim: block, GridDim: grid}
				if err := runUnit(k, u); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

func runUnit(k KernelFunc, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrLaunch, "unit %v panicked: %v", u.BlockIdx, r)
		}
	}()
	if err := k(u); err != nil {
		return errors.Wrapf(ErrLaunch, "unit %v: %v", u.BlockIdx, err)
	}
	return nil
}

// unravel converts a linear unit index to grid coordinates (X fastest).
func unravel(i int, grid Dim3) Dim3 {
	x := i % grid.X
	y := (i / grid.X) % grid.Y
	z := i / (grid.X * grid.Y)
	return Dim3{X: x, Y: y, Z: z}
}
