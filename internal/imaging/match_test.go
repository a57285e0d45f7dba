package imaging

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// patternTemplate builds a high-variance template image.
func patternTemplate(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*37 + y*91) % 251)})
		}
	}
	return img
}

// sceneWith pastes the template into a flat gray canvas at the given offsets.
func sceneWith(w, h int, tpl *image.Gray, offsets ...image.Point) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	tb := tpl.Bounds()
	for _, off := range offsets {
		for y := 0; y < tb.Dy(); y++ {
			for x := 0; x < tb.Dx(); x++ {
				img.SetGray(off.X+x, off.Y+y, tpl.GrayAt(x, y))
			}
		}
	}
	return img
}

func TestMatchFindsExactOccurrence(t *testing.T) {
	tplImg := patternTemplate(24, 16)
	tpl := NewTemplate(tplImg, "", time.Time{})
	scene := sceneWith(200, 300, tplImg, image.Pt(30, 120))

	result := Match("img-1", scene, tpl, DefaultMatchOptions())

	assert.Equal(t, 30, result.X)
	assert.Equal(t, 120, result.Y)
	assert.InDelta(t, 1.0, result.Score, 1e-6)
	assert.Equal(t, 1, result.NearCount)
	assert.True(t, result.Accepted(0.8))
}

func TestMatchIsDeterministic(t *testing.T) {
	tplImg := patternTemplate(24, 16)
	tpl := NewTemplate(tplImg, "", time.Time{})
	scene := sceneWith(200, 300, tplImg, image.Pt(55, 77))

	first := Match("img-1", scene, tpl, DefaultMatchOptions())
	second := Match("img-1", scene, tpl, DefaultMatchOptions())
	assert.Equal(t, first, second)
}

func TestMatchMultipleOccurrencesRejected(t *testing.T) {
	tplImg := patternTemplate(24, 16)
	tpl := NewTemplate(tplImg, "", time.Time{})
	scene := sceneWith(200, 300, tplImg, image.Pt(10, 40), image.Pt(100, 200))

	result := Match("img-1", scene, tpl, DefaultMatchOptions())

	assert.Equal(t, 2, result.NearCount)
	assert.False(t, result.Accepted(0.8), "ambiguous matches must go to QA, not the cropper")
}

func TestMatchAbsentTemplate(t *testing.T) {
	tplImg := patternTemplate(24, 16)
	tpl := NewTemplate(tplImg, "", time.Time{})

	// vertical gradient shares no structure with the template pattern
	scene := image.NewGray(image.Rect(0, 0, 200, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 200; x++ {
			scene.SetGray(x, y, color.Gray{Y: uint8(y % 256)})
		}
	}

	result := Match("img-1", scene, tpl, DefaultMatchOptions())
	assert.False(t, result.Accepted(0.8))
}

func TestMatchImageSmallerThanTemplate(t *testing.T) {
	tplImg := patternTemplate(24, 16)
	tpl := NewTemplate(tplImg, "", time.Time{})
	scene := image.NewGray(image.Rect(0, 0, 10, 10))

	result := Match("img-1", scene, tpl, DefaultMatchOptions())
	assert.Equal(t, -1, result.X)
	assert.False(t, result.Accepted(0.8))
}

func TestFlatTemplateNeverMatches(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 24, 16))
	tpl := NewTemplate(flat, "", time.Time{})
	scene := sceneWith(200, 300, patternTemplate(24, 16), image.Pt(30, 120))

	result := Match("img-1", scene, tpl, DefaultMatchOptions())
	assert.False(t, result.Accepted(0.8))
}
