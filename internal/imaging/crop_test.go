package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rowColored gives every row a distinct red value so cut lines are checkable.
func rowColored(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(y % 256), G: 0, B: 0, A: 255})
		}
	}
	return img
}

func TestCropGeometry(t *testing.T) {
	img := rowColored(300, 400)
	match := MatchResult{X: 40, Y: 120, Score: 0.95, NearCount: 1}

	out, err := Crop(img, match, 80, CropOptions{Epsilon: 10, MinScore: 0.8})
	require.NoError(t, err)

	// cut at 120 + 80 + 10 = 210
	assert.Equal(t, 300, out.Bounds().Dx(), "crop must span the full width")
	assert.Equal(t, 190, out.Bounds().Dy())

	nrgba := out.(*image.NRGBA)
	assert.Equal(t, uint8(210%256), nrgba.NRGBAAt(0, 0).R, "first output row must be original row 210")
	assert.Equal(t, uint8(399%256), nrgba.NRGBAAt(0, 189).R, "last output row must be the original bottom")
}

func TestCropRejectsLowScore(t *testing.T) {
	img := rowColored(100, 200)
	match := MatchResult{X: 0, Y: 10, Score: 0.79, NearCount: 1}

	_, err := Crop(img, match, 20, DefaultCropOptions())
	assert.ErrorIs(t, err, ErrInvalidMatch)
}

func TestCropRejectsMultiMatch(t *testing.T) {
	img := rowColored(100, 200)
	match := MatchResult{X: 0, Y: 10, Score: 0.95, NearCount: 2}

	_, err := Crop(img, match, 20, DefaultCropOptions())
	assert.ErrorIs(t, err, ErrInvalidMatch)
}

func TestCropRejectsCutBelowImage(t *testing.T) {
	img := rowColored(100, 100)
	match := MatchResult{X: 0, Y: 80, Score: 0.95, NearCount: 1}

	// 80 + 20 + 10 = 110 > 100
	_, err := Crop(img, match, 20, CropOptions{Epsilon: 10, MinScore: 0.8})
	assert.ErrorIs(t, err, ErrInvalidMatch)
}

func TestCropScoreBoundary(t *testing.T) {
	img := rowColored(100, 200)

	accepted := MatchResult{X: 0, Y: 10, Score: 0.81, NearCount: 1}
	out, err := Crop(img, accepted, 20, CropOptions{Epsilon: 10, MinScore: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 160, out.Bounds().Dy())

	flagged := MatchResult{X: 0, Y: 10, Score: 0.79, NearCount: 1}
	_, err = Crop(img, flagged, 20, CropOptions{Epsilon: 10, MinScore: 0.8})
	assert.ErrorIs(t, err, ErrInvalidMatch)
}
