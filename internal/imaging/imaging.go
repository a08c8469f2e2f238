// Package imaging holds the small set of image transforms shared by the
// detection and similarity pipelines: plain resizing, aspect-preserving
// letterboxing and conversion to channel-first float tensors.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// ToRGBA normalizes any decoded image to RGBA so pixel access is uniform.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Resize scales img to w x h with bilinear interpolation.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Letterbox scales img onto a w x h canvas without changing its aspect
// ratio, padding the remainder with pad. Matches the similarity model's
// training-time preprocessing.
func Letterbox(img image.Image, w, h int, pad color.Color) *image.RGBA {
	b := img.Bounds()
	iw, ih := b.Dx(), b.Dy()
	scale := min(float64(w)/float64(iw), float64(h)/float64(ih))
	nw := int(float64(iw) * scale)
	nh := int(float64(ih) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(pad), image.Point{}, draw.Src)

	target := image.Rect((w-nw)/2, (h-nh)/2, (w-nw)/2+nw, (h-nh)/2+nh)
	xdraw.CatmullRom.Scale(dst, target, img, b, xdraw.Src, nil)
	return dst
}

// Crop returns a copy of the sub-image at r (clamped to img's bounds).
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// TensorCHW converts img to a [1,3,H,W] float32 tensor with values in [0,1].
func TensorCHW(img *image.RGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			out[y*w+x] = float32(row[i]) / 255.0
			out[plane+y*w+x] = float32(row[i+1]) / 255.0
			out[2*plane+y*w+x] = float32(row[i+2]) / 255.0
		}
	}
	return out
}

// DecodeBase64 decodes a base64-encoded PNG or JPEG into an RGBA image.
func DecodeBase64(data string) (*image.RGBA, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return ToRGBA(img), nil
}
