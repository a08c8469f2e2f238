package captcha

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanRecolorsDominantRegion(t *testing.T) {
	backdrop := color.RGBA{40, 40, 40, 255}
	piece := color.RGBA{220, 30, 30, 255}
	crop := solidCrop(60, 60, backdrop, piece)

	out, err := NewDenoiser().Clean(crop)
	require.NoError(t, err)
	require.Equal(t, crop.Bounds(), out.Bounds())

	// The piece sits in the central 1/3, so its color dominates the
	// sampled region and its pixels come back white.
	assert.Equal(t, maskColor, out.RGBAAt(30, 30))
	// Far corner is backdrop, recolored to the fixed background.
	assert.Equal(t, backgroundColor, out.RGBAAt(2, 2))
}

func TestCleanIsDeterministic(t *testing.T) {
	crop := solidCrop(48, 48, color.RGBA{10, 80, 160, 255}, color.RGBA{250, 250, 40, 255})

	d := NewDenoiser()
	first, err := d.Clean(crop)
	require.NoError(t, err)
	second, err := d.Clean(crop)
	require.NoError(t, err)

	// Centroid initialization is seeded per call, so repeated runs over
	// the same crop are byte-identical.
	assert.Equal(t, first.Pix, second.Pix)
}

func TestCleanDropsSmallComponents(t *testing.T) {
	backdrop := color.RGBA{40, 40, 40, 255}
	piece := color.RGBA{220, 30, 30, 255}
	crop := solidCrop(60, 60, backdrop, piece)

	// A stray 3x3 speck of the piece color far from the center: same
	// color as the dominant cluster but under the 20px area floor.
	for y := 2; y < 5; y++ {
		for x := 2; x < 5; x++ {
			crop.SetRGBA(x, y, piece)
		}
	}

	out, err := NewDenoiser().Clean(crop)
	require.NoError(t, err)
	assert.Equal(t, backgroundColor, out.RGBAAt(3, 3), "small component should be dropped")
	assert.Equal(t, maskColor, out.RGBAAt(30, 30), "main component survives")
}

func TestCleanRejectsEmptyCrop(t *testing.T) {
	_, err := NewDenoiser().Clean(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)
}
