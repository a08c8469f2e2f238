package captcha

import (
	"fmt"
	"image"
	"sort"

	"icplookup/internal/imaging"
	"icplookup/internal/inference"
	"icplookup/internal/logging"
)

// Detection network build-time contract. The input is deliberately
// non-square, so x and y rescale factors differ.
const (
	detectorInputWidth  = 512
	detectorInputHeight = 192

	confidenceThreshold = 0.5
	iouThreshold        = 0.3

	minCandidates = 4

	// The detector consistently reports piece centers slightly left of
	// where the server expects clicks on this target. The +2 offset is
	// an empirical correction; do not remove it without re-measuring.
	centerXBias = 2
)

// Detector finds candidate puzzle pieces on the challenge background
// image and hands each crop to the denoiser.
type Detector struct {
	session  inference.Session
	denoiser *Denoiser
}

// NewDetector wraps a loaded detection-network session.
func NewDetector(session inference.Session) *Detector {
	return &Detector{session: session, denoiser: NewDenoiser()}
}

type rawBox struct {
	left, top, width, height int
	score                    float32
}

// Detect runs the detection network over the background image and returns
// at least four denoised candidates, or ErrInsufficientCandidates.
func (d *Detector) Detect(background *image.RGBA) ([]*Candidate, error) {
	timer := logging.StartTimer(logging.CategoryCaptcha, "detect")
	defer timer.Stop()

	b := background.Bounds()
	imgW, imgH := b.Dx(), b.Dy()

	resized := imaging.Resize(background, detectorInputWidth, detectorInputHeight)
	input, err := inference.NewTensor(
		[]int64{1, 3, detectorInputHeight, detectorInputWidth},
		imaging.TensorCHW(resized),
	)
	if err != nil {
		return nil, err
	}

	outputs, err := d.session.Run([]inference.Tensor{input})
	if err != nil {
		return nil, fmt.Errorf("detection inference: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("detection network returned no outputs")
	}

	boxes, err := decodeBoxes(outputs[0], imgW, imgH)
	if err != nil {
		return nil, err
	}

	kept := nonMaxSuppression(boxes, confidenceThreshold, iouThreshold)
	logging.CaptchaDebug("detector: %d raw boxes, %d after NMS", len(boxes), len(kept))
	if len(kept) < minCandidates {
		return nil, fmt.Errorf("%w: got %d boxes", ErrInsufficientCandidates, len(kept))
	}

	candidates := make([]*Candidate, 0, len(kept))
	for _, box := range kept {
		rect := image.Rect(box.left, box.top, box.left+box.width, box.top+box.height)
		crop := imaging.Crop(background, rect)

		thumb, err := d.denoiser.Clean(crop)
		if err != nil {
			// Denoise failure for one candidate is non-fatal: score the
			// raw crop instead.
			logging.CaptchaDebug("denoise failed for box %v, using raw crop: %v", rect, err)
			thumb = crop
		}

		candidates = append(candidates, &Candidate{
			Box:    rect,
			Center: &Point{X: box.left + box.width/2 + centerXBias, Y: box.top + box.height/2},
			Thumb:  thumb,
		})
	}
	return candidates, nil
}

// decodeBoxes interprets the detection output as rows of
// (cx, cy, w, h, class scores...) in network-input coordinates and maps
// surviving rows back to original-image pixels.
func decodeBoxes(output inference.Tensor, imgW, imgH int) ([]rawBox, error) {
	// Squeeze leading batch dimensions, then treat the result as
	// [attributes][rows] and transpose while reading.
	dims := output.Shape
	for len(dims) > 2 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("unexpected detection output shape %v", output.Shape)
	}
	attrs := int(dims[0])
	rows := int(dims[1])
	if attrs < 5 {
		return nil, fmt.Errorf("detection output has %d attributes, want at least 5", attrs)
	}

	xFactor := float32(imgW) / float32(detectorInputWidth)
	yFactor := float32(imgH) / float32(detectorInputHeight)

	at := func(attr, row int) float32 { return output.Data[attr*rows+row] }

	var boxes []rawBox
	for r := 0; r < rows; r++ {
		var maxScore float32
		for a := 4; a < attrs; a++ {
			if s := at(a, r); s > maxScore {
				maxScore = s
			}
		}
		cx, cy, w, h := at(0, r), at(1, r), at(2, r), at(3, r)
		if maxScore < confidenceThreshold || w <= 0 || h <= 0 {
			continue
		}

		box := rawBox{
			left:   int((cx - w/2) * xFactor),
			top:    int((cy - h/2) * yFactor),
			width:  int(w * xFactor),
			height: int(h * yFactor),
			score:  maxScore,
		}
		// Guard against truncation collapsing a sub-pixel box.
		if box.width <= 0 || box.height <= 0 {
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// nonMaxSuppression keeps the highest-confidence box of every overlapping
// cluster: boxes are visited by descending score and any later box whose
// IoU with a kept box exceeds the threshold is dropped.
func nonMaxSuppression(boxes []rawBox, confThreshold, iouThreshold float32) []rawBox {
	order := make([]int, 0, len(boxes))
	for i, b := range boxes {
		if b.score >= confThreshold {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return boxes[order[i]].score > boxes[order[j]].score
	})

	var kept []rawBox
	for _, i := range order {
		overlaps := false
		for _, k := range kept {
			if iou(boxes[i], k) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, boxes[i])
		}
	}
	return kept
}

func iou(a, b rawBox) float32 {
	x1 := maxInt(a.left, b.left)
	y1 := maxInt(a.top, b.top)
	x2 := minInt(a.left+a.width, b.left+b.width)
	y2 := minInt(a.top+a.height, b.top+b.height)

	iw, ih := x2-x1, y2-y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float32(iw * ih)
	union := float32(a.width*a.height+b.width*b.height) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
