// Package imageio converts between encoded images and the packed HWC uint8
// tensors the warp engine works on.
package imageio

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kunal/gpu-warp-router/pkg/warp"
)

// Decode decodes a PNG, JPEG, GIF, BMP, TIFF or WebP image. Grayscale images
// decode to one channel, everything else to four (RGBA).
func Decode(data []byte) ([]byte, warp.TensorShape, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, warp.TensorShape{}, "", errors.Wrap(err, "imageio: decode")
	}
	pix, shape := FromImage(img)
	return pix, shape, format, nil
}

// FromImage packs img into an HWC tensor.
func FromImage(img image.Image) ([]byte, warp.TensorShape) {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst.Pix, warp.TensorShape{H: b.Dy(), W: b.Dx(), C: 1}
	default:
		dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst.Pix, warp.TensorShape{H: b.Dy(), W: b.Dx(), C: 4}
	}
}

// ToImage wraps an HWC tensor of 1, 2, 3 or 4 channels as an image.
func ToImage(pix []byte, shape warp.TensorShape) (image.Image, error) {
	if len(pix) != shape.Bytes() {
		return nil, errors.Errorf("imageio: %d bytes for a %v tensor", len(pix), shape)
	}
	r := image.Rect(0, 0, shape.W, shape.H)
	switch shape.C {
	case 1:
		return &image.Gray{Pix: pix, Stride: shape.W, Rect: r}, nil
	case 4:
		return &image.NRGBA{Pix: pix, Stride: shape.W * 4, Rect: r}, nil
	case 2, 3:
		img := image.NewNRGBA(r)
		for i := 0; i < shape.W*shape.H; i++ {
			px := pix[i*shape.C : i*shape.C+shape.C]
			var c color.NRGBA
			if shape.C == 2 {
				c = color.NRGBA{px[0], px[0], px[0], px[1]}
			} else {
				c = color.NRGBA{px[0], px[1], px[2], 0xff}
			}
			img.SetNRGBA(i%shape.W, i/shape.W, c)
		}
		return img, nil
	}
	return nil, errors.Errorf("imageio: unsupported channel count %d", shape.C)
}

// EncodePNG encodes an HWC tensor as PNG.
func EncodePNG(pix []byte, shape warp.TensorShape) ([]byte, error) {
	img, err := ToImage(pix, shape)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "imageio: encode png")
	}
	return buf.Bytes(), nil
}
