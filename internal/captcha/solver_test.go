package captcha

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icplookup/internal/inference"
)

func TestSolveEndToEnd(t *testing.T) {
	pieces := []image.Rectangle{
		image.Rect(40, 30, 70, 60),
		image.Rect(120, 80, 150, 110),
		image.Rect(220, 40, 250, 70),
		image.Rect(320, 100, 350, 130),
		image.Rect(420, 20, 450, 50),
	}
	background := drawBackground(detectorInputWidth, detectorInputHeight, pieces)

	boxes := make([]rawBox, len(pieces))
	for i, r := range pieces {
		boxes[i] = rawBox{left: r.Min.X, top: r.Min.Y, width: r.Dx(), height: r.Dy(), score: 0.9}
	}
	detection := &stubSession{outputs: []inference.Tensor{detectionOutput(boxes)}}

	// A constant similarity makes every slot's argmax collide on the
	// first candidate, exercising the claimed-center fallback: the
	// assignment walks the first four candidates in detection order.
	similarity := &stubSession{outputs: []inference.Tensor{
		{Shape: []int64{1, 1}, Data: []float32{0.5}},
	}}

	solver := NewSolver(detection, similarity)
	assignment, err := solver.Solve(context.Background(), background, drawSmallImage())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		r := pieces[i]
		require.NotNil(t, assignment[i])
		assert.Equal(t, r.Min.X+r.Dx()/2+centerXBias, assignment[i].X, "slot %d", i)
		assert.Equal(t, r.Min.Y+r.Dy()/2, assignment[i].Y, "slot %d", i)
	}

	// 4 slots x 5 candidates similarity calls.
	assert.Len(t, similarity.calls, 20)
}

func TestSolveHonorsContextCancellation(t *testing.T) {
	pieces := []image.Rectangle{
		image.Rect(40, 30, 70, 60),
		image.Rect(120, 80, 150, 110),
		image.Rect(220, 40, 250, 70),
		image.Rect(320, 100, 350, 130),
	}
	background := drawBackground(detectorInputWidth, detectorInputHeight, pieces)

	boxes := make([]rawBox, len(pieces))
	for i, r := range pieces {
		boxes[i] = rawBox{left: r.Min.X, top: r.Min.Y, width: r.Dx(), height: r.Dy(), score: 0.9}
	}
	detection := &stubSession{outputs: []inference.Tensor{detectionOutput(boxes)}}
	similarity := &stubSession{outputs: []inference.Tensor{
		{Shape: []int64{1, 1}, Data: []float32{0.5}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSolver(detection, similarity).Solve(ctx, background, drawSmallImage())
	require.ErrorIs(t, err, context.Canceled)
}
