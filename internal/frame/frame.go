package frame

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"
)

// Format identifies the pixel layout of a Frame's data plane.
type Format int

const (
	// FormatRGBA8888 is an interleaved 4-channel 8-bit plane: R, G, B, A.
	FormatRGBA8888 Format = iota
)

// ErrInvalidFrame is returned for frames that cannot be decoded.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is a raw sensor frame as delivered by a frame source.
// It must not be modified after capture and must be released exactly once
// by whoever ends up owning it.
type Frame struct {
	Width       int
	Height      int
	Format      Format
	RowStride   int
	PixelStride int
	Rotation    int           // 0, 90, 180 or 270, clockwise to upright
	Timestamp   time.Duration // monotonic
	Data        []byte

	release *releaser
}

type releaser struct {
	once sync.Once
	fn   func()
}

// New creates a frame whose release callback runs at most once.
func New(width, height, rowStride, pixelStride, rotation int, ts time.Duration, data []byte, release func()) Frame {
	f := Frame{
		Width:       width,
		Height:      height,
		Format:      FormatRGBA8888,
		RowStride:   rowStride,
		PixelStride: pixelStride,
		Rotation:    rotation,
		Timestamp:   ts,
		Data:        data,
	}
	if release != nil {
		f.release = &releaser{fn: release}
	}
	return f
}

// Release returns the frame's resources to its source. Safe to call more than once.
func (f Frame) Release() {
	if f.release != nil {
		f.release.once.Do(f.release.fn)
	}
}

// Validate reports whether the frame can be decoded.
func (f Frame) Validate() error {
	switch {
	case f.Format != FormatRGBA8888:
		return fmt.Errorf("%w: unsupported format %d", ErrInvalidFrame, f.Format)
	case f.Width <= 0 || f.Height <= 0:
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	case !ValidRotation(f.Rotation):
		return fmt.Errorf("%w: rotation %d", ErrInvalidFrame, f.Rotation)
	case f.PixelStride < 4:
		return fmt.Errorf("%w: pixel stride %d", ErrInvalidFrame, f.PixelStride)
	case f.RowStride < f.Width*f.PixelStride:
		return fmt.Errorf("%w: row stride %d shorter than %d pixels", ErrInvalidFrame, f.RowStride, f.Width)
	}
	need := (f.Height-1)*f.RowStride + (f.Width-1)*f.PixelStride + 4
	if len(f.Data) < need {
		return fmt.Errorf("%w: buffer has %d bytes, need %d", ErrInvalidFrame, len(f.Data), need)
	}
	return nil
}

// ValidRotation reports whether deg is one of 0, 90, 180, 270.
func ValidRotation(deg int) bool {
	return deg == 0 || deg == 90 || deg == 180 || deg == 270
}

// UprightImage is a frame converted to RGB and rotated to device-upright
// orientation. Alpha is always opaque.
type UprightImage struct {
	Width  int
	Height int
	Image  *image.NRGBA
}
