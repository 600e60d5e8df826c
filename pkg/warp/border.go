package warp

// Border is the policy applied when a mapped coordinate falls outside the
// input. The policy type is fixed per Engine; the value passed to Setup and
// Run carries its parameters, such as the fill value.
type Border interface {
	// Resolve maps (x, y), which lies outside [0,w) x [0,h), to a coordinate
	// inside the input. It reports false when Fill should be used instead.
	Resolve(x, y, w, h int) (int, int, bool)

	// Fill is the value written for unresolved coordinates.
	Fill() uint8
}

// ConstantBorder fills everything outside the input with Value.
type ConstantBorder struct {
	Value uint8
}

func (ConstantBorder) Resolve(x, y, w, h int) (int, int, bool) { return 0, 0, false }

func (b ConstantBorder) Fill() uint8 { return b.Value }

// ClampBorder repeats the nearest edge pixel.
type ClampBorder struct{}

func (ClampBorder) Resolve(x, y, w, h int) (int, int, bool) {
	return clamp(x, 0, w-1), clamp(y, 0, h-1), true
}

func (ClampBorder) Fill() uint8 { return 0 }

// WrapBorder tiles the input periodically.
type WrapBorder struct{}

func (WrapBorder) Resolve(x, y, w, h int) (int, int, bool) {
	return mod(x, w), mod(y, h), true
}

func (WrapBorder) Fill() uint8 { return 0 }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mod(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
