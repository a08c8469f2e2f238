package captcha

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"icplookup/internal/imaging"
	"icplookup/internal/inference"
)

// drawBackground renders a synthetic challenge background: a flat fill
// with one solid square per piece location.
func drawBackground(w, h int, pieces []image.Rectangle) *image.RGBA {
	dc := gg.NewContext(w, h)
	dc.SetRGB(0.2, 0.4, 0.6)
	dc.Clear()
	for i, r := range pieces {
		dc.SetRGB(1, float64(i)*0.2, 0)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Fill()
	}
	return imaging.ToRGBA(dc.Image())
}

// drawSmallImage renders a small image wide enough to cover the four
// reference slot rectangles.
func drawSmallImage() *image.RGBA {
	dc := gg.NewContext(330, 50)
	dc.SetRGB(0.9, 0.9, 0.9)
	dc.Clear()
	for i, r := range slotRects {
		dc.SetRGB(float64(i)*0.25, 0.1, 0.8)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Fill()
	}
	return imaging.ToRGBA(dc.Image())
}

// solidCrop builds a crop filled with bg and a centered square of fg.
func solidCrop(w, h int, bg, fg color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, bg)
		}
	}
	for y := h/2 - h/6; y < h/2+h/6; y++ {
		for x := w/2 - w/6; x < w/2+w/6; x++ {
			img.SetRGBA(x, y, fg)
		}
	}
	return img
}

// stubSession replays canned outputs and records the inputs it saw.
type stubSession struct {
	outputs []inference.Tensor
	err     error
	calls   [][]inference.Tensor
}

func (s *stubSession) Run(inputs []inference.Tensor) ([]inference.Tensor, error) {
	s.calls = append(s.calls, inputs)
	if s.err != nil {
		return nil, s.err
	}
	return s.outputs, nil
}

func (s *stubSession) Close() error { return nil }

// detectionOutput packs boxes into the [1, attrs, rows] layout the
// detection network emits: attribute-major with one class score.
func detectionOutput(boxes []rawBox) inference.Tensor {
	rows := len(boxes)
	data := make([]float32, 5*rows)
	for r, b := range boxes {
		cx := float32(b.left) + float32(b.width)/2
		cy := float32(b.top) + float32(b.height)/2
		data[0*rows+r] = cx
		data[1*rows+r] = cy
		data[2*rows+r] = float32(b.width)
		data[3*rows+r] = float32(b.height)
		data[4*rows+r] = b.score
	}
	return inference.Tensor{Shape: []int64{1, 5, int64(rows)}, Data: data}
}
