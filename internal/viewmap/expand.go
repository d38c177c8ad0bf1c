package viewmap

import "math"

// Expansion grows a mapped eye box so the drawn frame surrounds the whole
// eye and brow. Relative pads scale with the box; minimum pads are pixels.
type Expansion struct {
	Horizontal float64 // total, split between left and right
	Top        float64
	Bottom     float64

	MinHorizontal float64
	MinTop        float64
	MinBottom     float64
}

// DefaultExpansion returns the overlay padding for a display with the given
// pixel density (1 = 160 dpi).
func DefaultExpansion(density float64) Expansion {
	return Expansion{
		Horizontal:    0.35,
		Top:           1.10,
		Bottom:        0.50,
		MinHorizontal: 8 * density,
		MinTop:        20 * density,
		MinBottom:     8 * density,
	}
}

// Apply pads r and clamps the result to area.
func (e Expansion) Apply(r Rect, area Rect) Rect {
	dx := math.Max(math.Max(r.Width()*e.Horizontal/2, 0), e.MinHorizontal)
	dyTop := math.Max(r.Height()*e.Top, e.MinTop)
	dyBottom := math.Max(r.Height()*e.Bottom, e.MinBottom)

	return Rect{
		Left:   math.Max(r.Left-dx, area.Left),
		Top:    math.Max(r.Top-dyTop, area.Top),
		Right:  math.Min(r.Right+dx, area.Right),
		Bottom: math.Min(r.Bottom+dyBottom, area.Bottom),
	}
}
