package imaging

import (
	"bytes"
	"image"
	"math"
	"sort"
)

// MatchResult reports where the template scored highest inside one detail
// image. Consumed once by the cropper or the QA path, never mutated.
type MatchResult struct {
	ImageID string  `json:"image_id"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Score   float64 `json:"score"`
	// NearCount is the number of non-overlapping offsets scoring at or above
	// the near-duplicate threshold. A tiled supplier banner shows up here.
	NearCount int `json:"near_count"`
}

// Accepted reports whether the match qualifies for automatic cropping:
// a single confident hit, nothing ambiguous.
func (r MatchResult) Accepted(minScore float64) bool {
	return r.Score >= minScore && r.NearCount == 1
}

type MatchOptions struct {
	// NearThreshold is the secondary threshold for counting near-duplicate
	// offsets.
	NearThreshold float64
}

func DefaultMatchOptions() MatchOptions {
	return MatchOptions{NearThreshold: 0.8}
}

// Match slides the template across the image computing a zero-mean normalized
// cross-correlation score at every offset and reports the global maximum.
// Deterministic: identical inputs always yield identical results.
func Match(imageID string, img image.Image, tpl *Template, opts MatchOptions) MatchResult {
	if opts.NearThreshold <= 0 {
		opts.NearThreshold = DefaultMatchOptions().NearThreshold
	}

	target := toGray(img)
	result := MatchResult{ImageID: imageID, X: -1, Y: -1}

	tw, th := tpl.gray.w, tpl.gray.h
	if tw == 0 || th == 0 || target.w < tw || target.h < th {
		return result
	}

	tplMean, tplVar := tpl.gray.stats()
	if tplVar == 0 {
		// flat template matches everywhere and nowhere; refuse
		return result
	}

	sums, squares := target.integrals()
	area := float64(tw * th)

	type hit struct {
		x, y  int
		score float64
	}
	var hits []hit

	for y := 0; y+th <= target.h; y++ {
		for x := 0; x+tw <= target.w; x++ {
			winSum := windowSum(sums, target.w, x, y, tw, th)
			winSq := windowSum(squares, target.w, x, y, tw, th)
			winMean := winSum / area
			winVar := winSq - area*winMean*winMean
			if winVar <= 0 {
				continue
			}

			var cross float64
			for ty := 0; ty < th; ty++ {
				trow := target.pix[(y+ty)*target.w+x:]
				prow := tpl.gray.pix[ty*tw:]
				for tx := 0; tx < tw; tx++ {
					cross += trow[tx] * prow[tx]
				}
			}

			score := (cross - area*winMean*tplMean) / math.Sqrt(winVar*tplVar*area)
			// guard accumulated float error outside [−1,1]
			if score > 1 {
				score = 1
			} else if score < -1 {
				score = -1
			}

			if score > result.Score || result.X < 0 {
				result.X, result.Y, result.Score = x, y, score
			}
			if score >= opts.NearThreshold {
				hits = append(hits, hit{x: x, y: y, score: score})
			}
		}
	}

	// Count distinct hits: greedy suppression within one template extent of a
	// stronger hit. Ties at the exact maximum at different offsets survive
	// suppression only if they do not overlap, and then count as multi-match.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].y != hits[j].y {
			return hits[i].y < hits[j].y
		}
		return hits[i].x < hits[j].x
	})

	var kept []hit
	for _, h := range hits {
		overlaps := false
		for _, k := range kept {
			if abs(h.x-k.x) < tw && abs(h.y-k.y) < th {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, h)
		}
	}
	result.NearCount = len(kept)

	return result
}

// grayImage is a float64 grayscale plane.
type grayImage struct {
	pix  []float64
	w, h int
}

func toGray(img image.Image) grayImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	g := grayImage{pix: make([]float64, w*h), w: w, h: h}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gr, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels
			g.pix[i] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return g
}

func (g grayImage) stats() (mean, variance float64) {
	n := float64(len(g.pix))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range g.pix {
		sum += v
	}
	mean = sum / n

	var sq float64
	for _, v := range g.pix {
		d := v - mean
		sq += d * d
	}
	return mean, sq / n
}

// integrals builds summed-area tables for window sums in O(1) per offset.
// Tables are (w+1)x(h+1) with a zero border.
func (g grayImage) integrals() (sums, squares []float64) {
	w1 := g.w + 1
	sums = make([]float64, w1*(g.h+1))
	squares = make([]float64, w1*(g.h+1))

	for y := 0; y < g.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < g.w; x++ {
			v := g.pix[y*g.w+x]
			rowSum += v
			rowSq += v * v
			sums[(y+1)*w1+x+1] = sums[y*w1+x+1] + rowSum
			squares[(y+1)*w1+x+1] = squares[y*w1+x+1] + rowSq
		}
	}
	return sums, squares
}

func windowSum(table []float64, imgW, x, y, w, h int) float64 {
	w1 := imgW + 1
	return table[(y+h)*w1+x+w] - table[y*w1+x+w] - table[(y+h)*w1+x] + table[y*w1+x]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func bytesReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
