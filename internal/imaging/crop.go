package imaging

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidMatch means crop was asked to act on a match that was not
// accepted. Such images belong on the QA path, never under the knife.
var ErrInvalidMatch = errors.New("match not accepted for cropping")

type CropOptions struct {
	// Epsilon is a fixed buffer below the template to clear residual borders.
	Epsilon  int
	MinScore float64
}

func DefaultCropOptions() CropOptions {
	return CropOptions{
		Epsilon:  10,
		MinScore: 0.8,
	}
}

// Crop removes everything above and including the matched supplier block:
// the output spans the full original width from
// yEnd = match.Y + templateHeight + epsilon down to the original bottom.
// Pure and deterministic; pixel content below the cut is copied unchanged.
func Crop(img image.Image, match MatchResult, templateHeight int, opts CropOptions) (image.Image, error) {
	if opts.Epsilon < 0 {
		opts.Epsilon = DefaultCropOptions().Epsilon
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultCropOptions().MinScore
	}

	if !match.Accepted(opts.MinScore) {
		return nil, fmt.Errorf("%w: score %.3f, near matches %d", ErrInvalidMatch, match.Score, match.NearCount)
	}

	bounds := img.Bounds()
	yEnd := match.Y + templateHeight + opts.Epsilon
	if yEnd >= bounds.Dy() {
		return nil, fmt.Errorf("%w: cut line %d at or below image height %d", ErrInvalidMatch, yEnd, bounds.Dy())
	}

	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()-yEnd))
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			out.Set(x, y, img.At(bounds.Min.X+x, bounds.Min.Y+yEnd+y))
		}
	}

	return out, nil
}
