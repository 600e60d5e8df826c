package warp

import (
	"math"
	"testing"

	"golang.org/x/image/math/f64"
)

func TestInvertAffine(t *testing.T) {
	forward := f64.Aff3{2, 0.5, 10, -0.25, 1.5, -3}
	inv, err := InvertAffine(forward)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range [][2]float64{{0, 0}, {3, 4}, {-7.5, 12}} {
		ox := forward[0]*p[0] + forward[1]*p[1] + forward[2]
		oy := forward[3]*p[0] + forward[4]*p[1] + forward[5]
		sx, sy := inv.Map(float32(ox), float32(oy))
		if math.Abs(float64(sx)-p[0]) > 1e-3 || math.Abs(float64(sy)-p[1]) > 1e-3 {
			t.Errorf("inverse maps (%v,%v) to (%v,%v), want %v", ox, oy, sx, sy, p)
		}
	}
}

func TestInvertAffine_Singular(t *testing.T) {
	if _, err := InvertAffine(f64.Aff3{1, 2, 0, 2, 4, 0}); err == nil {
		t.Error("singular transform inverted without error")
	}
}

func TestResize(t *testing.T) {
	m := Resize(Extent{W: 200, H: 100}, Extent{W: 50, H: 50})
	sx, sy := m.Map(0.5, 0.5)
	if sx != 2 || sy != 1 {
		t.Errorf("Map(0.5, 0.5) = (%v, %v), want (2, 1)", sx, sy)
	}
}

func TestUploadParams(t *testing.T) {
	dev, st := newTestDevice(t)
	maps := []AffineMapping{Identity(), {M: f64.Aff3{1, 2, 3, 4, 5, 6}}, Resize(Extent{8, 8}, Extent{4, 2})}

	p, err := dev.Malloc(len(maps) * AffineParamSize)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingStream{Stream: st}
	table, err := UploadParams(rec, p, maps)
	if err != nil {
		t.Fatal(err)
	}
	if rec.copies != 1 {
		t.Errorf("%d transfers, want 1", rec.copies)
	}
	if table.Count != 3 || table.RecordSize != AffineParamSize {
		t.Errorf("table = %+v", table)
	}
	if err := st.Synchronize(); err != nil {
		t.Fatal(err)
	}
	for i, want := range maps {
		b, err := dev.View(table.Record(i), AffineParamSize)
		if err != nil {
			t.Fatal(err)
		}
		if got := (AffineMapping{}).DecodeParams(b); got != want {
			t.Errorf("record %d = %v, want %v", i, got, want)
		}
	}
}

func TestBorderResolve(t *testing.T) {
	tests := []struct {
		name   string
		border Border
		x, y   int
		wantX  int
		wantY  int
		wantOK bool
	}{
		{"constant", ConstantBorder{Value: 3}, -1, 2, 0, 0, false},
		{"clamp low", ClampBorder{}, -5, -1, 0, 0, true},
		{"clamp high", ClampBorder{}, 12, 9, 9, 4, true},
		{"wrap negative", WrapBorder{}, -1, -6, 9, 4, true},
		{"wrap far", WrapBorder{}, 25, 11, 5, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, ok := tt.border.Resolve(tt.x, tt.y, 10, 5)
			if ok != tt.wantOK || (ok && (x != tt.wantX || y != tt.wantY)) {
				t.Errorf("Resolve(%d, %d) = (%d, %d, %v), want (%d, %d, %v)",
					tt.x, tt.y, x, y, ok, tt.wantX, tt.wantY, tt.wantOK)
			}
		})
	}
	if (ConstantBorder{Value: 3}).Fill() != 3 {
		t.Error("ConstantBorder.Fill() ignores its value")
	}
}
