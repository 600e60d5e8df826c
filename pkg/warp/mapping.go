package warp

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"

	"github.com/kunal/gpu-warp-router/pkg/device"
)

// Mapping is a coordinate-mapping policy whose per-sample parameter record is
// the policy value itself. M is the implementing type; an Engine is
// instantiated with it so that kernels call Map without an interface hop.
//
// ParamSize, AppendParams and DecodeParams define the record's fixed binary
// layout in device memory. Map receives the center of an output pixel and
// returns the corresponding continuous input coordinate, where input pixel
// (i, j) covers [i, i+1) x [j, j+1).
type Mapping[M any] interface {
	ParamSize() int
	AppendParams(b []byte) []byte
	DecodeParams(b []byte) M
	Map(x, y float32) (float32, float32)
}

// ParamTable is a device-resident array of mapping parameter records, one per
// sample, each RecordSize bytes.
type ParamTable struct {
	Data       device.Ptr
	Count      int
	RecordSize int
}

// Record returns the address of sample i's parameter record.
func (t ParamTable) Record(i int) device.Ptr {
	return t.Data.Add(i * t.RecordSize)
}

// Stager is the part of a stream used to move host data to the device and
// check for enqueue errors. *device.Stream implements it.
type Stager interface {
	CopyToDevice(dst device.Ptr, src []byte)
	LastError() error
}

// UploadParams packs one parameter record per sample and copies the table to
// dst in a single transfer. dst must hold len(params)*ParamSize bytes.
func UploadParams[M Mapping[M]](st Stager, dst device.Ptr, params []M) (ParamTable, error) {
	var zero M
	size := zero.ParamSize()
	buf := make([]byte, 0, len(params)*size)
	for _, p := range params {
		buf = p.AppendParams(buf)
	}
	st.CopyToDevice(dst, buf)
	if err := st.LastError(); err != nil {
		return ParamTable{}, errors.WithMessage(err, "upload mapping parameters")
	}
	return ParamTable{Data: dst, Count: len(params), RecordSize: size}, nil
}

// AffineMapping maps output coordinates to input coordinates with a 2x3
// matrix: sx = M[0]*x + M[1]*y + M[2], sy = M[3]*x + M[4]*y + M[5].
type AffineMapping struct {
	M f64.Aff3
}

// AffineParamSize is the record size of AffineMapping: six float64.
const AffineParamSize = 48

// Identity returns the mapping that samples each output pixel at the same
// input location.
func Identity() AffineMapping {
	return AffineMapping{M: f64.Aff3{1, 0, 0, 0, 1, 0}}
}

// Resize returns the mapping that stretches an input of size in over an
// output of size out.
func Resize(in, out Extent) AffineMapping {
	sx := float64(in.W) / float64(out.W)
	sy := float64(in.H) / float64(out.H)
	return AffineMapping{M: f64.Aff3{sx, 0, 0, 0, sy, 0}}
}

// InvertAffine turns a forward (input to output) transform into the
// output-to-input mapping the kernels evaluate.
func InvertAffine(forward f64.Aff3) (AffineMapping, error) {
	m := mat.NewDense(3, 3, []float64{
		forward[0], forward[1], forward[2],
		forward[3], forward[4], forward[5],
		0, 0, 1,
	})
	if math.Abs(mat.Det(m)) < 1e-12 {
		return AffineMapping{}, errors.Errorf("warp: affine transform %v is singular", forward)
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return AffineMapping{}, errors.Wrap(err, "warp: invert affine transform")
	}
	return AffineMapping{M: f64.Aff3{
		inv.At(0, 0), inv.At(0, 1), inv.At(0, 2),
		inv.At(1, 0), inv.At(1, 1), inv.At(1, 2),
	}}, nil
}

func (AffineMapping) ParamSize() int { return AffineParamSize }

func (a AffineMapping) AppendParams(b []byte) []byte {
	for _, v := range a.M {
		b = le.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

func (AffineMapping) DecodeParams(b []byte) AffineMapping {
	_ = b[AffineParamSize-1]
	var a AffineMapping
	for i := range a.M {
		a.M[i] = math.Float64frombits(le.Uint64(b[i*8:]))
	}
	return a
}

func (a AffineMapping) Map(x, y float32) (float32, float32) {
	fx, fy := float64(x), float64(y)
	return float32(a.M[0]*fx + a.M[1]*fy + a.M[2]),
		float32(a.M[3]*fx + a.M[4]*fy + a.M[5])
}
