// Package extractor cuts square, deskewed, fixed-size eye crops out of an
// upright frame for the eye-state classifier.
package extractor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/dudu/eyebox/internal/detector"
	"github.com/dudu/eyebox/internal/frame"
)

// minRollDegrees is the smallest roll worth rotating for.
const minRollDegrees = 1e-3

// Options configures crop geometry.
type Options struct {
	Margin   float64 // extra side length relative to the box, 0.18 = +18%
	Deskew   bool
	CropSize int
}

// EyeCrop is a CropSize x CropSize RGB eye image.
type EyeCrop struct {
	Image *image.NRGBA
}

// Size returns the side length of the crop.
func (c *EyeCrop) Size() int {
	return c.Image.Bounds().Dx()
}

// Extractor produces classifier-ready eye crops.
type Extractor struct {
	opts Options
	log  *log.Entry
}

// New creates an extractor
func New(opts Options) (*Extractor, error) {
	if opts.CropSize <= 0 {
		return nil, fmt.Errorf("crop size must be positive, got %d", opts.CropSize)
	}
	if opts.Margin < 0 || math.IsNaN(opts.Margin) {
		return nil, errors.New("margin must be non-negative")
	}
	return &Extractor{
		opts: opts,
		log:  log.WithField("component", "extractor"),
	}, nil
}

// Extract returns one crop per eye box. A nil crop means that eye could not be
// extracted; the other eye is unaffected.
func (e *Extractor) Extract(img *frame.UprightImage, left, right detector.NormalizedRect) (*EyeCrop, *EyeCrop) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, nil
	}

	pl := toPixels(left, img.Width, img.Height)
	pr := toPixels(right, img.Width, img.Height)

	var roll float64
	if e.opts.Deskew {
		roll = rollDegrees(pl, pr)
	}

	return e.extractOne(img, pl, roll), e.extractOne(img, pr, roll)
}

func (e *Extractor) extractOne(img *frame.UprightImage, box pixelRect, roll float64) *EyeCrop {
	square, ok := squareRegion(box, img.Width, img.Height, e.opts.Margin)
	if !ok {
		return nil
	}

	crop := imaging.Crop(img.Image, square)
	if e.opts.Deskew && math.Abs(roll) >= minRollDegrees {
		crop = e.rotate(crop, roll)
	}

	side := min(crop.Bounds().Dx(), crop.Bounds().Dy())
	if side < crop.Bounds().Dx() || side < crop.Bounds().Dy() {
		crop = imaging.CropCenter(crop, side, side)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, e.opts.CropSize, e.opts.CropSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), crop, crop.Bounds(), draw.Src, nil)

	return &EyeCrop{Image: dst}
}

// rotate levels a crop by turning it counter-clockwise by roll degrees about
// its center. Any failure returns the unrotated crop.
func (e *Extractor) rotate(src *image.NRGBA, roll float64) (out *image.NRGBA) {
	out = src
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("roll", roll).Warnf("deskew failed: %v", r)
			out = src
		}
	}()

	rotated := imaging.Rotate(src, roll, borderColor(src))
	if rotated == nil || rotated.Bounds().Empty() {
		return src
	}
	return rotated
}

// RollDegrees returns the roll angle of the line from the left eye center to
// the right eye center, in pixel space of a width x height image.
func RollDegrees(left, right detector.NormalizedRect, width, height int) float64 {
	return rollDegrees(toPixels(left, width, height), toPixels(right, width, height))
}

func rollDegrees(left, right pixelRect) float64 {
	lx, ly := left.center()
	rx, ry := right.center()
	return math.Atan2(ry-ly, rx-lx) * 180 / math.Pi
}

// borderColor averages the outermost ring of pixels; used to fill the
// corners uncovered by rotation.
func borderColor(img *image.NRGBA) color.NRGBA {
	b := img.Bounds()
	var r, g, bl, n uint64
	add := func(x, y int) {
		off := img.PixOffset(x, y)
		r += uint64(img.Pix[off])
		g += uint64(img.Pix[off+1])
		bl += uint64(img.Pix[off+2])
		n++
	}
	for x := b.Min.X; x < b.Max.X; x++ {
		add(x, b.Min.Y)
		add(x, b.Max.Y-1)
	}
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		add(b.Min.X, y)
		add(b.Max.X-1, y)
	}
	if n == 0 {
		return color.NRGBA{A: 0xff}
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 0xff}
}
