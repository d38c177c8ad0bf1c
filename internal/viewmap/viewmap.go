// Package viewmap maps normalized eye boxes into the rotated, mirrored and
// letterboxed coordinate space of a preview view. Everything here is pure.
package viewmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/dudu/eyebox/internal/detector"
)

// ErrUnsupportedRotation is returned for rotations other than 0/90/180/270.
var ErrUnsupportedRotation = errors.New("unsupported rotation")

// Size is an image size in pixels.
type Size struct {
	Width, Height float64
}

// Rect is a rectangle in view pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns rect width
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns rect height
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// DrawArea returns the part of view covered by an image of size src shown
// with the given rotation, preserving aspect ratio.
func DrawArea(rotationDeg int, src Size, view Rect) (Rect, error) {
	if err := checkRotation(rotationDeg); err != nil {
		return Rect{}, err
	}
	if src.Width <= 0 || src.Height <= 0 || view.Width() <= 0 || view.Height() <= 0 {
		return Rect{}, fmt.Errorf("empty source %vx%v or view %vx%v", src.Width, src.Height, view.Width(), view.Height())
	}

	imgW, imgH := src.Width, src.Height
	if rotationDeg == 90 || rotationDeg == 270 {
		imgW, imgH = imgH, imgW
	}
	imgAR := imgW / imgH
	vw, vh := view.Width(), view.Height()

	var drawW, drawH, offX, offY float64
	if vw/vh > imgAR {
		// pillarbox
		drawH = vh
		drawW = imgAR * drawH
		offX = (vw - drawW) / 2
	} else {
		// letterbox
		drawW = vw
		drawH = drawW / imgAR
		offY = (vh - drawH) / 2
	}

	return Rect{
		Left:   view.Left + offX,
		Top:    view.Top + offY,
		Right:  view.Left + offX + drawW,
		Bottom: view.Top + offY + drawH,
	}, nil
}

// MapToView rotates the box corners, optionally mirrors them horizontally,
// and places their bounding box inside the aspect-preserving area of view.
func MapToView(box detector.NormalizedRect, rotationDeg int, mirrorX bool, src Size, view Rect) (Rect, error) {
	area, err := DrawArea(rotationDeg, src, view)
	if err != nil {
		return Rect{}, err
	}

	b := bounds(corners(box), func(x, y float64) (float64, float64) {
		rx, ry := rotate(rotationDeg, x, y)
		if mirrorX {
			rx = 1 - rx
		}
		return rx, ry
	})

	return Rect{
		Left:   area.Left + b.Left*area.Width(),
		Top:    area.Top + b.Top*area.Height(),
		Right:  area.Left + b.Right*area.Width(),
		Bottom: area.Top + b.Bottom*area.Height(),
	}, nil
}

// Unmap is the inverse of MapToView.
func Unmap(r Rect, rotationDeg int, mirrorX bool, src Size, view Rect) (detector.NormalizedRect, error) {
	area, err := DrawArea(rotationDeg, src, view)
	if err != nil {
		return detector.NormalizedRect{}, err
	}

	n := detector.NormalizedRect{
		Left:   (r.Left - area.Left) / area.Width(),
		Top:    (r.Top - area.Top) / area.Height(),
		Right:  (r.Right - area.Left) / area.Width(),
		Bottom: (r.Bottom - area.Top) / area.Height(),
	}

	return bounds(corners(n), func(x, y float64) (float64, float64) {
		if mirrorX {
			x = 1 - x
		}
		return unrotate(rotationDeg, x, y)
	}), nil
}

// rotate maps normalized image coordinates into display coordinates.
func rotate(deg int, x, y float64) (float64, float64) {
	switch deg {
	case 90:
		return y, 1 - x
	case 180:
		return 1 - x, 1 - y
	case 270:
		return 1 - y, x
	}
	return x, y
}

func unrotate(deg int, x, y float64) (float64, float64) {
	switch deg {
	case 90:
		return 1 - y, x
	case 180:
		return 1 - x, 1 - y
	case 270:
		return y, 1 - x
	}
	return x, y
}

func corners(r detector.NormalizedRect) [4][2]float64 {
	return [4][2]float64{
		{r.Left, r.Top},
		{r.Right, r.Top},
		{r.Left, r.Bottom},
		{r.Right, r.Bottom},
	}
}

func bounds(pts [4][2]float64, fn func(x, y float64) (float64, float64)) detector.NormalizedRect {
	out := detector.NormalizedRect{
		Left: math.Inf(1), Top: math.Inf(1),
		Right: math.Inf(-1), Bottom: math.Inf(-1),
	}
	for _, p := range pts {
		x, y := fn(p[0], p[1])
		out.Left = math.Min(out.Left, x)
		out.Top = math.Min(out.Top, y)
		out.Right = math.Max(out.Right, x)
		out.Bottom = math.Max(out.Bottom, y)
	}
	return out
}

func checkRotation(deg int) error {
	switch deg {
	case 0, 90, 180, 270:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedRotation, deg)
}
