package warp

import (
	"encoding/binary"
	"fmt"

	"github.com/kunal/gpu-warp-router/pkg/device"
)

// Extent is a 2D size in pixels.
type Extent struct {
	W, H int
}

// Area returns W*H.
func (e Extent) Area() int { return e.W * e.H }

// Positive reports whether both components are strictly positive.
func (e Extent) Positive() bool { return e.W > 0 && e.H > 0 }

func (e Extent) String() string { return fmt.Sprintf("%dx%d", e.W, e.H) }

// TensorShape is the shape of one HWC sample.
type TensorShape struct {
	H, W, C int
}

// Extent returns the spatial part of the shape.
func (s TensorShape) Extent() Extent { return Extent{W: s.W, H: s.H} }

// Bytes returns the size of a densely packed uint8 tensor of this shape.
func (s TensorShape) Bytes() int { return s.H * s.W * s.C }

func (s TensorShape) String() string { return fmt.Sprintf("%dx%dx%d", s.H, s.W, s.C) }

// Tensor is a densely packed HWC uint8 sample resident in device memory.
type Tensor struct {
	Data  device.Ptr
	Shape TensorShape
}

// TensorList is one tensor per sample of a batch.
type TensorList []Tensor

// Shapes returns the shape of every tensor in the list.
func (l TensorList) Shapes() []TensorShape {
	shapes := make([]TensorShape, len(l))
	for i, t := range l {
		shapes[i] = t.Shape
	}
	return shapes
}

// InterpType selects how an input is sampled at a mapped coordinate.
type InterpType uint8

const (
	InterpNN InterpType = iota
	InterpLinear
)

func (t InterpType) String() string {
	switch t {
	case InterpNN:
		return "nn"
	case InterpLinear:
		return "linear"
	}
	return fmt.Sprintf("interp(%d)", uint8(t))
}

// Region locates a 2D HWC image in device memory.
type Region struct {
	Data   device.Ptr
	Width  int32
	Height int32
	Stride int32 // bytes per row
}

// SampleDesc describes the transform of one input/output sample pair. It is a
// plain record with a fixed binary layout of SampleDescSize bytes.
type SampleDesc struct {
	In       Region
	Out      Region
	Params   device.Ptr // the sample's mapping parameter record
	Channels int32
	Interp   InterpType
}

// BlockDesc is the part of one sample's output handled by one execution unit
// in variable mode. It is a plain record of BlockDescSize bytes.
type BlockDesc struct {
	Sample int32
	X, Y   int32
	W, H   int32
}

// Extent returns the size of the block's sub-region.
func (b BlockDesc) Extent() Extent { return Extent{W: int(b.W), H: int(b.H)} }

// Binary layout, little-endian:
//
//	Region     [0:8) data  [8:12) width  [12:16) height  [16:20) stride  [20:24) pad
//	SampleDesc [0:24) in   [24:48) out   [48:56) params  [56:60) channels [60] interp [61:64) pad
//	BlockDesc  [0:4) sample [4:8) x [8:12) y [12:16) w [16:20) h
const (
	regionSize     = 24
	SampleDescSize = 64
	BlockDescSize  = 20

	// descAlign is the alignment of every staged descriptor array.
	descAlign = 16
)

var le = binary.LittleEndian

func putRegion(b []byte, r Region) {
	le.PutUint64(b[0:], uint64(r.Data))
	le.PutUint32(b[8:], uint32(r.Width))
	le.PutUint32(b[12:], uint32(r.Height))
	le.PutUint32(b[16:], uint32(r.Stride))
	le.PutUint32(b[20:], 0)
}

func getRegion(b []byte) Region {
	return Region{
		Data:   device.Ptr(le.Uint64(b[0:])),
		Width:  int32(le.Uint32(b[8:])),
		Height: int32(le.Uint32(b[12:])),
		Stride: int32(le.Uint32(b[16:])),
	}
}

// Put writes the record into b, which must hold SampleDescSize bytes.
func (s *SampleDesc) Put(b []byte) {
	_ = b[SampleDescSize-1]
	putRegion(b[0:], s.In)
	putRegion(b[24:], s.Out)
	le.PutUint64(b[48:], uint64(s.Params))
	le.PutUint32(b[56:], uint32(s.Channels))
	b[60] = byte(s.Interp)
	b[61], b[62], b[63] = 0, 0, 0
}

// GetSampleDesc reads a record written by SampleDesc.Put.
func GetSampleDesc(b []byte) SampleDesc {
	_ = b[SampleDescSize-1]
	return SampleDesc{
		In:       getRegion(b[0:]),
		Out:      getRegion(b[24:]),
		Params:   device.Ptr(le.Uint64(b[48:])),
		Channels: int32(le.Uint32(b[56:])),
		Interp:   InterpType(b[60]),
	}
}

// Put writes the record into b, which must hold BlockDescSize bytes.
func (d *BlockDesc) Put(b []byte) {
	_ = b[BlockDescSize-1]
	le.PutUint32(b[0:], uint32(d.Sample))
	le.PutUint32(b[4:], uint32(d.X))
	le.PutUint32(b[8:], uint32(d.Y))
	le.PutUint32(b[12:], uint32(d.W))
	le.PutUint32(b[16:], uint32(d.H))
}

// GetBlockDesc reads a record written by BlockDesc.Put.
func GetBlockDesc(b []byte) BlockDesc {
	_ = b[BlockDescSize-1]
	return BlockDesc{
		Sample: int32(le.Uint32(b[0:])),
		X:      int32(le.Uint32(b[4:])),
		Y:      int32(le.Uint32(b[8:])),
		W:      int32(le.Uint32(b[12:])),
		H:      int32(le.Uint32(b[16:])),
	}
}

// EncodeSamples packs sample descriptors into their device layout.
func EncodeSamples(samples []SampleDesc) []byte {
	b := make([]byte, len(samples)*SampleDescSize)
	for i := range samples {
		samples[i].Put(b[i*SampleDescSize:])
	}
	return b
}

// EncodeBlocks packs block descriptors into their device layout.
func EncodeBlocks(blocks []BlockDesc) []byte {
	b := make([]byte, len(blocks)*BlockDescSize)
	for i := range blocks {
		blocks[i].Put(b[i*BlockDescSize:])
	}
	return b
}
