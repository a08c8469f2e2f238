package captcha

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icplookup/internal/imaging"
	"icplookup/internal/inference"
)

func TestScoreFeedsBothBranches(t *testing.T) {
	session := &stubSession{outputs: []inference.Tensor{
		{Shape: []int64{1, 1}, Data: []float32{0.87}},
	}}
	scorer := NewScorer(session)

	reference := solidCrop(30, 32, color.RGBA{200, 10, 10, 255}, color.RGBA{255, 255, 255, 255})
	candidate := solidCrop(28, 30, color.RGBA{10, 10, 200, 255}, color.RGBA{255, 255, 255, 255})

	score, err := scorer.Score(reference, candidate)
	require.NoError(t, err)
	assert.InDelta(t, 0.87, score, 1e-6)

	require.Len(t, session.calls, 1)
	inputs := session.calls[0]
	require.Len(t, inputs, 2)
	for i, in := range inputs {
		assert.Equal(t, []int64{1, 3, siameseInputSize, siameseInputSize}, in.Shape, "branch %d", i)
		for _, v := range in.Data {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
	}
}

func TestScoreRejectsEmptyOutput(t *testing.T) {
	session := &stubSession{outputs: []inference.Tensor{{Shape: []int64{0}, Data: nil}}}
	scorer := NewScorer(session)

	img := solidCrop(30, 30, color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255})
	_, err := scorer.Score(img, img)
	require.Error(t, err)
}

func TestLetterboxPadsWithTrainingGray(t *testing.T) {
	// A tall narrow image leaves padded columns on both sides.
	img := solidCrop(10, 32, color.RGBA{200, 10, 10, 255}, color.RGBA{255, 255, 255, 255})
	boxed := imaging.Letterbox(img, siameseInputSize, siameseInputSize, letterboxPad)

	assert.Equal(t, siameseInputSize, boxed.Bounds().Dx())
	assert.Equal(t, siameseInputSize, boxed.Bounds().Dy())
	assert.Equal(t, color.RGBA{128, 128, 128, 255}, boxed.RGBAAt(0, 16))
	assert.Equal(t, color.RGBA{128, 128, 128, 255}, boxed.RGBAAt(31, 16))
}
