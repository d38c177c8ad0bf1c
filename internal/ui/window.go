package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/eyebox/internal/drowsiness"
	"github.com/dudu/eyebox/internal/hysteresis"
	"github.com/dudu/eyebox/internal/pipeline"
	"github.com/dudu/eyebox/internal/viewmap"
)

var (
	colorClosed  = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	colorOpen    = color.RGBA{R: 40, G: 200, B: 60, A: 255}
	colorUnknown = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	colorText    = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// Window manages the preview display
type Window struct {
	window     *gocv.Window
	name       string
	width      int
	height     int
	rotation   int
	mirrorX    bool
	expansion  viewmap.Expansion
	canvas     gocv.Mat
	lastFrame  time.Time
	frameCount int
	fps        float64
}

// NewWindow creates a preview window of the given size. rotation is the
// display rotation and mirrorX flips the preview like a mirror; both must
// match the pipeline's mapping settings.
func NewWindow(name string, width, height, rotation int, mirrorX bool) *Window {
	window := gocv.NewWindow(name)
	// Force window to appear on macOS
	window.ResizeWindow(width, height)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		width:     width,
		height:    height,
		rotation:  rotation,
		mirrorX:   mirrorX,
		expansion: viewmap.DefaultExpansion(1),
		canvas:    gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3),
		lastFrame: time.Now(),
	}
}

// View returns the window area snapshots are mapped into.
func (w *Window) View() viewmap.Rect {
	return viewmap.Rect{Right: float64(w.width), Bottom: float64(w.height)}
}

// Show draws the snapshot image with its eye boxes and updates the FPS
// counter. Snapshots without an image are skipped.
func (w *Window) Show(snap *pipeline.Snapshot) error {
	if snap == nil || snap.Image == nil {
		return nil
	}

	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	src := viewmap.Size{Width: float64(snap.Width), Height: float64(snap.Height)}
	area, err := viewmap.DrawArea(w.rotation, src, w.View())
	if err != nil {
		return fmt.Errorf("failed to compute draw area: %w", err)
	}

	if err := w.drawImage(snap, area); err != nil {
		return err
	}

	for _, eye := range []pipeline.Eye{snap.Left, snap.Right} {
		if !snap.FaceFound || eye.View == nil {
			continue
		}
		r := w.expansion.Apply(*eye.View, area)
		gocv.Rectangle(&w.canvas, image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom)), stateColor(eye.State), 2)
	}

	// Draw FPS and closure status
	status := fmt.Sprintf("FPS: %.1f  closed: %dms", w.fps, snap.Closure.Milliseconds())
	gocv.PutText(&w.canvas, status, image.Pt(10, 30),
		gocv.FontHersheyPlain, 2, colorText, 2)
	if snap.Timer.Fired {
		gocv.PutText(&w.canvas, "MICROSLEEP", image.Pt(10, 70),
			gocv.FontHersheyPlain, 3, colorClosed, 3)
	} else if snap.Outcome == drowsiness.Started {
		gocv.PutText(&w.canvas, "eyes closed", image.Pt(10, 70),
			gocv.FontHersheyPlain, 2, colorUnknown, 2)
	}

	w.window.IMShow(w.canvas)
	return nil
}

// drawImage letterboxes the rotated, mirrored snapshot image into the canvas.
func (w *Window) drawImage(snap *pipeline.Snapshot, area viewmap.Rect) error {
	img := snap.Image
	rgba, err := gocv.NewMatFromBytes(img.Rect.Dy(), img.Rect.Dx(), gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return fmt.Errorf("failed to wrap snapshot image: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	shown := bgr
	if flag, ok := rotateFlag(w.rotation); ok {
		rotated := gocv.NewMat()
		defer rotated.Close()
		gocv.Rotate(bgr, &rotated, flag)
		shown = rotated
	}
	if w.mirrorX {
		gocv.Flip(shown, &shown, 1)
	}

	w.canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))
	box := image.Rect(int(area.Left), int(area.Top), int(area.Right), int(area.Bottom)).
		Intersect(image.Rect(0, 0, w.width, w.height))
	if box.Empty() {
		return nil
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(shown, &resized, box.Size(), 0, 0, gocv.InterpolationLinear)

	roi := w.canvas.Region(box)
	resized.CopyTo(&roi)
	roi.Close()
	return nil
}

// rotateFlag matches viewmap, which turns image content counter-clockwise
// by the display rotation.
func rotateFlag(deg int) (gocv.RotateFlag, bool) {
	switch deg {
	case 90:
		return gocv.Rotate90CounterClockwise, true
	case 180:
		return gocv.Rotate180Clockwise, true
	case 270:
		return gocv.Rotate90Clockwise, true
	}
	return 0, false
}

func stateColor(s hysteresis.EyeState) color.RGBA {
	switch s {
	case hysteresis.Closed:
		return colorClosed
	case hysteresis.Open:
		return colorOpen
	default:
		return colorUnknown
	}
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// Close closes the window
func (w *Window) Close() error {
	w.canvas.Close()
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
