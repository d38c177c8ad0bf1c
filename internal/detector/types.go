package detector

import "math"

// Point represents a 2D point
type Point struct {
	X, Y float64
}

// NormalizedRect is a region in [0,1] image coordinates.
// Left <= Right and Top <= Bottom for a valid rect.
type NormalizedRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns box width
func (r NormalizedRect) Width() float64 {
	return r.Right - r.Left
}

// Height returns box height
func (r NormalizedRect) Height() float64 {
	return r.Bottom - r.Top
}

// Center returns box center point
func (r NormalizedRect) Center() Point {
	return Point{
		X: (r.Left + r.Right) / 2,
		Y: (r.Top + r.Bottom) / 2,
	}
}

// Area returns box area
func (r NormalizedRect) Area() float64 {
	return r.Width() * r.Height()
}

// Valid reports whether the rect is ordered and lies inside the unit square.
func (r NormalizedRect) Valid() bool {
	for _, v := range []float64{r.Left, r.Top, r.Right, r.Bottom} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return r.Left <= r.Right && r.Top <= r.Bottom
}

// Clamp limits every edge to [0,1] and restores edge ordering.
func (r NormalizedRect) Clamp() NormalizedRect {
	c := NormalizedRect{
		Left:   clamp01(r.Left),
		Top:    clamp01(r.Top),
		Right:  clamp01(r.Right),
		Bottom: clamp01(r.Bottom),
	}
	if c.Left > c.Right {
		c.Left, c.Right = c.Right, c.Left
	}
	if c.Top > c.Bottom {
		c.Top, c.Bottom = c.Bottom, c.Top
	}
	return c
}

// EyePair holds the eye boxes of one face. Left is the eye on the image's left side.
type EyePair struct {
	Left  NormalizedRect
	Right NormalizedRect
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
