package extractor

import (
	"image"
	"math"

	"github.com/dudu/eyebox/internal/detector"
)

// pixelRect is an eye box in pixel coordinates.
type pixelRect struct {
	left, top, right, bottom int
}

func (p pixelRect) center() (float64, float64) {
	return float64(p.left+p.right) / 2, float64(p.top+p.bottom) / 2
}

// toPixels converts a normalized box to pixels. Low edges are clamped to
// [0, dim-1] and high edges to [1, dim] so a box never collapses at a border.
func toPixels(r detector.NormalizedRect, width, height int) pixelRect {
	w, h := float64(width), float64(height)
	return pixelRect{
		left:   roundClamp(r.Left*w, 0, w-1),
		top:    roundClamp(r.Top*h, 0, h-1),
		right:  roundClamp(r.Right*w, 1, w),
		bottom: roundClamp(r.Bottom*h, 1, h),
	}
}

// squareRegion expands the box to a square of max(w, h) * (1 + margin)
// around its center, shrunk to stay inside the image. It fails when the
// usable half side is one pixel or less.
func squareRegion(box pixelRect, width, height int, margin float64) (image.Rectangle, bool) {
	cx, cy := box.center()
	bw := float64(box.right - box.left)
	bh := float64(box.bottom - box.top)

	half := math.Max(bw, bh) * (1 + margin) / 2
	half = math.Min(half, math.Min(cx, cy))
	half = math.Min(half, math.Min(float64(width)-cx, float64(height)-cy))
	if !(half > 1) {
		return image.Rectangle{}, false
	}

	side := int(2 * half)
	x0 := clampInt(int(math.Round(cx-float64(side)/2)), 0, width-side)
	y0 := clampInt(int(math.Round(cy-float64(side)/2)), 0, height-side)

	return image.Rect(x0, y0, x0+side, y0+side), true
}

func roundClamp(v, lo, hi float64) int {
	if math.IsNaN(v) {
		v = lo
	}
	return int(math.Round(math.Max(lo, math.Min(hi, v))))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
