package captcha

import (
	"fmt"
	"image"
	"image/color"

	"icplookup/internal/imaging"
	"icplookup/internal/inference"
)

// Twin-network build-time contract: both branches take a square RGB
// input of this size.
const siameseInputSize = 32

// Letterbox padding matches the gray canvas used when the model was
// trained.
var letterboxPad = color.RGBA{128, 128, 128, 255}

// Scorer computes a similarity score between a reference slice and a
// candidate thumbnail via the two-branch twin network. Raw scores are
// returned unthresholded; ranking is the matcher's job.
type Scorer struct {
	session inference.Session
}

// NewScorer wraps a loaded twin-network session.
func NewScorer(session inference.Session) *Scorer {
	return &Scorer{session: session}
}

// Score returns the similarity between the two images; higher means more
// similar.
func (s *Scorer) Score(reference, candidate image.Image) (float32, error) {
	ref, err := preprocessBranch(reference)
	if err != nil {
		return 0, err
	}
	cand, err := preprocessBranch(candidate)
	if err != nil {
		return 0, err
	}

	outputs, err := s.session.Run([]inference.Tensor{ref, cand})
	if err != nil {
		return 0, fmt.Errorf("similarity inference: %w", err)
	}
	if len(outputs) == 0 || len(outputs[0].Data) == 0 {
		return 0, fmt.Errorf("similarity network returned no output")
	}
	return outputs[0].Data[0], nil
}

func preprocessBranch(img image.Image) (inference.Tensor, error) {
	boxed := imaging.Letterbox(img, siameseInputSize, siameseInputSize, letterboxPad)
	return inference.NewTensor(
		[]int64{1, 3, siameseInputSize, siameseInputSize},
		imaging.TensorCHW(boxed),
	)
}
