package warp

import (
	"math"

	"github.com/pkg/errors"

	"github.com/kunal/gpu-warp-router/pkg/device"
)

// kernelArgs is what a launch passes to every unit.
type kernelArgs[B Border] struct {
	mem      *device.Device
	samples  device.Ptr
	nSamples int
	blocks   device.Ptr
	nBlocks  int
	uniform  Extent // shared output extent, uniform mode only
	unit     Extent // region per unit, uniform mode only
	border   B
}

// uniformKernel handles the unit-sized region at (BlockIdx.X, BlockIdx.Y) of
// sample BlockIdx.Z. Regions on the trailing edges are clipped to the extent.
func uniformKernel[M Mapping[M], B Border](a kernelArgs[B]) device.KernelFunc {
	return func(u device.Unit) error {
		i := u.BlockIdx.Z
		if i >= a.nSamples {
			return errors.Errorf("sample %d out of range [0,%d)", i, a.nSamples)
		}
		sd, err := loadSample(a.mem, a.samples, i)
		if err != nil {
			return err
		}
		x0 := u.BlockIdx.X * a.unit.W
		y0 := u.BlockIdx.Y * a.unit.H
		w := min(a.unit.W, a.uniform.W-x0)
		h := min(a.unit.H, a.uniform.H-y0)
		if w <= 0 || h <= 0 {
			return nil
		}
		return warpRegion[M](a.mem, sd, x0, y0, w, h, a.border)
	}
}

// variableKernel handles the region of block descriptor BlockIdx.X.
func variableKernel[M Mapping[M], B Border](a kernelArgs[B]) device.KernelFunc {
	return func(u device.Unit) error {
		bi := u.BlockIdx.X
		if bi >= a.nBlocks {
			return errors.Errorf("block %d out of range [0,%d)", bi, a.nBlocks)
		}
		view, err := a.mem.View(a.blocks.Add(bi*BlockDescSize), BlockDescSize)
		if err != nil {
			return err
		}
		b := GetBlockDesc(view)
		if int(b.Sample) < 0 || int(b.Sample) >= a.nSamples {
			return errors.Errorf("block %d: sample %d out of range [0,%d)", bi, b.Sample, a.nSamples)
		}
		sd, err := loadSample(a.mem, a.samples, int(b.Sample))
		if err != nil {
			return err
		}
		return warpRegion[M](a.mem, sd, int(b.X), int(b.Y), int(b.W), int(b.H), a.border)
	}
}

func loadSample(mem *device.Device, samples device.Ptr, i int) (SampleDesc, error) {
	view, err := mem.View(samples.Add(i*SampleDescSize), SampleDescSize)
	if err != nil {
		return SampleDesc{}, err
	}
	return GetSampleDesc(view), nil
}

// warpRegion writes every output pixel of [x0,x0+w) x [y0,y0+h) of one sample.
func warpRegion[M Mapping[M], B Border](mem *device.Device, sd SampleDesc, x0, y0, w, h int, border B) error {
	if x0 < 0 || y0 < 0 || x0+w > int(sd.Out.Width) || y0+h > int(sd.Out.Height) {
		return errors.Errorf("region (%d,%d)+%dx%d outside output %dx%d", x0, y0, w, h, sd.Out.Width, sd.Out.Height)
	}
	var zero M
	pb, err := mem.View(sd.Params, zero.ParamSize())
	if err != nil {
		return errors.WithMessage(err, "mapping parameters")
	}
	m := zero.DecodeParams(pb)

	in, err := mem.View(sd.In.Data, int(sd.In.Stride)*int(sd.In.Height))
	if err != nil {
		return errors.WithMessage(err, "input")
	}
	out, err := mem.View(sd.Out.Data, int(sd.Out.Stride)*int(sd.Out.Height))
	if err != nil {
		return errors.WithMessage(err, "output")
	}

	src := source[B]{
		data:   in,
		w:      int(sd.In.Width),
		h:      int(sd.In.Height),
		stride: int(sd.In.Stride),
		c:      int(sd.Channels),
		border: border,
	}
	c := src.c
	stride := int(sd.Out.Stride)
	for y := y0; y < y0+h; y++ {
		row := out[y*stride:]
		for x := x0; x < x0+w; x++ {
			sx, sy := m.Map(float32(x)+0.5, float32(y)+0.5)
			px := row[x*c : x*c+c]
			if sd.Interp == InterpLinear {
				src.linear(px, sx, sy)
			} else {
				src.nearest(px, sx, sy)
			}
		}
	}
	return nil
}

// source samples an HWC input under a border policy.
type source[B Border] struct {
	data   []byte
	w, h   int
	stride int
	c      int
	border B
}

func (s *source[B]) at(x, y, ch int) float32 {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		var ok bool
		if x, y, ok = s.border.Resolve(x, y, s.w, s.h); !ok {
			return float32(s.border.Fill())
		}
	}
	return float32(s.data[y*s.stride+x*s.c+ch])
}

func (s *source[B]) nearest(px []byte, sx, sy float32) {
	if isNaN(sx) || isNaN(sy) {
		for ch := range px {
			px[ch] = s.border.Fill()
		}
		return
	}
	x, y := floorInt(sx), floorInt(sy)
	for ch := range px {
		px[ch] = uint8(s.at(x, y, ch))
	}
}

func (s *source[B]) linear(px []byte, sx, sy float32) {
	if isNaN(sx) || isNaN(sy) {
		for ch := range px {
			px[ch] = s.border.Fill()
		}
		return
	}
	fx, fy := sx-0.5, sy-0.5
	x0, y0 := floorInt(fx), floorInt(fy)
	ax := fx - float32(math.Floor(float64(fx)))
	ay := fy - float32(math.Floor(float64(fy)))
	for ch := range px {
		v00 := s.at(x0, y0, ch)
		v01 := s.at(x0+1, y0, ch)
		v10 := s.at(x0, y0+1, ch)
		v11 := s.at(x0+1, y0+1, ch)
		top := v00 + (v01-v00)*ax
		bot := v10 + (v11-v10)*ax
		px[ch] = toUint8(top + (bot-top)*ay)
	}
}

// coordLimit keeps float to int conversions well defined for far-away points.
const coordLimit = 1 << 30

func floorInt(f float32) int {
	v := math.Floor(float64(f))
	if v < -coordLimit {
		return -coordLimit
	}
	if v > coordLimit {
		return coordLimit
	}
	return int(v)
}

func isNaN(f float32) bool { return f != f }

func toUint8(f float32) uint8 {
	v := math.Round(float64(f))
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
