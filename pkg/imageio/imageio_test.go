package imageio

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/kunal/gpu-warp-router/pkg/warp"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 3))
	for y := range 3 {
		for x := range 5 {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 40), uint8(y * 80), 7, 255})
		}
	}
	return img
}

func TestDecode_Formats(t *testing.T) {
	src := testImage()
	encoders := map[string]func(*bytes.Buffer) error{
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		"tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
		"png": func(b *bytes.Buffer) error {
			data, err := EncodePNG(src.Pix, warp.TensorShape{H: 3, W: 5, C: 4})
			b.Write(data)
			return err
		},
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := enc(&buf); err != nil {
				t.Fatal(err)
			}
			pix, shape, format, err := Decode(buf.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			if format != name {
				t.Errorf("format = %q, want %q", format, name)
			}
			if shape != (warp.TensorShape{H: 3, W: 5, C: 4}) {
				t.Fatalf("shape = %v", shape)
			}
			if !bytes.Equal(pix, src.Pix) {
				t.Error("decoded pixels differ from the source")
			}
		})
	}
}

func TestDecode_Gray(t *testing.T) {
	pix := []byte{0, 50, 100, 150, 200, 250}
	data, err := EncodePNG(pix, warp.TensorShape{H: 2, W: 3, C: 1})
	if err != nil {
		t.Fatal(err)
	}
	got, shape, _, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if shape.C != 1 || !bytes.Equal(got, pix) {
		t.Errorf("gray round trip = %v %v", shape, got)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, _, _, err := Decode([]byte("not an image")); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestToImage(t *testing.T) {
	tests := []struct {
		name    string
		pix     []byte
		shape   warp.TensorShape
		want    color.NRGBA
		wantErr bool
	}{
		{"rgb", []byte{10, 20, 30}, warp.TensorShape{H: 1, W: 1, C: 3}, color.NRGBA{10, 20, 30, 255}, false},
		{"gray alpha", []byte{90, 128}, warp.TensorShape{H: 1, W: 1, C: 2}, color.NRGBA{90, 90, 90, 128}, false},
		{"short", []byte{1}, warp.TensorShape{H: 1, W: 1, C: 3}, color.NRGBA{}, true},
		{"five channels", make([]byte, 5), warp.TensorShape{H: 1, W: 1, C: 5}, color.NRGBA{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ToImage(tt.pix, tt.shape)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA); got != tt.want {
				t.Errorf("pixel = %v, want %v", got, tt.want)
			}
		})
	}
}
