package warp

import (
	"fmt"
	"testing"

	"github.com/kunal/gpu-warp-router/pkg/device"
)

func newTestDevice(t *testing.T) (*device.Device, *device.Stream) {
	t.Helper()
	dev := device.New(device.Options{Name: "test", MemoryBytes: 32 << 20, Units: 4})
	st := dev.NewStream()
	t.Cleanup(func() { st.Close() })
	return dev, st
}

// hostBatch is a batch whose inputs and mapping table live on the device,
// with the host copy of every input kept for comparisons.
type hostBatch struct {
	in     TensorList
	host   [][]byte
	params ParamTable
}

func pattern(i, x, y, c int) byte {
	return byte(i*31 + x*7 + y*13 + c*59)
}

func uploadBatch(t *testing.T, dev *device.Device, st *device.Stream, shapes []TensorShape, maps []AffineMapping) hostBatch {
	t.Helper()
	var b hostBatch
	for i, s := range shapes {
		p, err := dev.Malloc(s.Bytes())
		if err != nil {
			t.Fatalf("Malloc input %d: %v", i, err)
		}
		data := make([]byte, s.Bytes())
		for y := range s.H {
			for x := range s.W {
				for c := range s.C {
					data[(y*s.W+x)*s.C+c] = pattern(i, x, y, c)
				}
			}
		}
		st.CopyToDevice(p, data)
		b.in = append(b.in, Tensor{Data: p, Shape: s})
		b.host = append(b.host, data)
	}
	pp, err := dev.Malloc(len(maps) * AffineParamSize)
	if err != nil {
		t.Fatalf("Malloc params: %v", err)
	}
	b.params, err = UploadParams(st, pp, maps)
	if err != nil {
		t.Fatalf("UploadParams: %v", err)
	}
	return b
}

func allocOutputs(t *testing.T, dev *device.Device, shapes []TensorShape) TensorList {
	t.Helper()
	out := make(TensorList, len(shapes))
	for i, s := range shapes {
		p, err := dev.Malloc(s.Bytes())
		if err != nil {
			t.Fatalf("Malloc output %d: %v", i, err)
		}
		out[i] = Tensor{Data: p, Shape: s}
	}
	return out
}

func download(t *testing.T, st *device.Stream, out TensorList) [][]byte {
	t.Helper()
	res := make([][]byte, len(out))
	for i, o := range out {
		res[i] = make([]byte, o.Shape.Bytes())
		st.CopyToHost(res[i], o.Data)
	}
	if err := st.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	return res
}

// runBatch plans and runs one batch end to end and returns the outputs.
func runBatch[B Border](t *testing.T, dev *device.Device, st *device.Stream, b hostBatch,
	sizes []Extent, interp []InterpType, border B) ([][]byte, *BatchPlan) {
	t.Helper()
	e, err := NewEngine[AffineMapping, B](DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	req, err := e.Setup(b.in, b.params, sizes, interp, border)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	out := allocOutputs(t, dev, req.OutputShapes)
	sp, err := dev.NewScratchpad(req.DeviceScratch)
	if err != nil {
		t.Fatalf("NewScratchpad: %v", err)
	}
	if err := e.Run(&Context{Stream: st, Scratch: sp}, out, b.in, b.params, sizes, interp, border); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sp.ReleaseAfter(st)
	return download(t, st, out), e.Plan()
}

// recordingStream counts the work a Run issues and can fail transfers.
type recordingStream struct {
	*device.Stream
	copies   int
	launches int
	failCopy bool
	err      error
}

func (r *recordingStream) CopyToDevice(dst device.Ptr, src []byte) {
	r.copies++
	if r.failCopy {
		r.err = fmt.Errorf("injected fault: %w", device.ErrTransfer)
		return
	}
	r.Stream.CopyToDevice(dst, src)
}

func (r *recordingStream) Launch(grid, block device.Dim3, k device.KernelFunc) {
	r.launches++
	r.Stream.Launch(grid, block, k)
}

func (r *recordingStream) LastError() error {
	if err := r.err; err != nil {
		r.err = nil
		return err
	}
	return r.Stream.LastError()
}
