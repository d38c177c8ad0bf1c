package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/eyebox/internal/frame"
)

// maxReadFailures is how many consecutive empty reads end Run.
const maxReadFailures = 30

// Capture manages webcam capture
type Capture struct {
	webcam    *gocv.VideoCapture
	deviceID  int
	targetFPS int
	width     int
	height    int
	rotation  atomic.Int32
	pool      frame.Pool
	mu        sync.Mutex
	log       *log.Entry
}

// NewCapture opens a camera at the requested resolution. rotation is the
// clockwise rotation that makes the sensor image upright.
func NewCapture(deviceID, targetFPS, width, height, rotation int) (*Capture, error) {
	if !frame.ValidRotation(rotation) {
		return nil, fmt.Errorf("invalid rotation %d", rotation)
	}

	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", deviceID, err)
	}

	// Set camera properties
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	webcam.Set(gocv.VideoCaptureFPS, float64(targetFPS))

	// Get actual dimensions (camera may not support requested resolution)
	actualWidth := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	actualHeight := int(webcam.Get(gocv.VideoCaptureFrameHeight))

	c := &Capture{
		webcam:    webcam,
		deviceID:  deviceID,
		targetFPS: targetFPS,
		width:     actualWidth,
		height:    actualHeight,
		log:       log.WithField("component", "camera"),
	}
	c.rotation.Store(int32(rotation))
	c.log.Infof("camera %d opened at %dx%d", deviceID, actualWidth, actualHeight)
	return c, nil
}

// SetRotation changes the rotation stamped on subsequent frames.
func (c *Capture) SetRotation(deg int) error {
	if !frame.ValidRotation(deg) {
		return fmt.Errorf("invalid rotation %d", deg)
	}
	c.rotation.Store(int32(deg))
	return nil
}

// Rotation returns the current frame rotation
func (c *Capture) Rotation() int {
	return int(c.rotation.Load())
}

// Run reads frames and hands them to sink until ctx is done or the camera
// stops delivering. sink owns each frame and must release it.
func (c *Capture) Run(ctx context.Context, sink func(frame.Frame) bool) error {
	raw := gocv.NewMat()
	defer raw.Close()
	rgba := gocv.NewMat()
	defer rgba.Close()

	start := time.Now()
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !c.read(&raw) || raw.Empty() {
			failures++
			if failures >= maxReadFailures {
				return errors.New("camera stopped delivering frames")
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures = 0

		gocv.CvtColor(raw, &rgba, gocv.ColorBGRToRGBA)
		f, err := c.toFrame(rgba, time.Since(start))
		if err != nil {
			c.log.Warnf("dropping frame: %v", err)
			continue
		}
		sink(f)
	}
}

// toFrame copies an RGBA Mat into a pooled frame without an intermediate
// buffer.
func (c *Capture) toFrame(rgba gocv.Mat, ts time.Duration) (frame.Frame, error) {
	data, err := rgba.DataPtrUint8()
	if err != nil {
		return frame.Frame{}, fmt.Errorf("failed to access frame data: %w", err)
	}
	f := c.pool.Get(rgba.Cols(), rgba.Rows(), c.Rotation(), ts)
	if len(data) < len(f.Data) {
		f.Release()
		return frame.Frame{}, fmt.Errorf("short frame buffer: %d < %d", len(data), len(f.Data))
	}
	copy(f.Data, data)
	return f, nil
}

func (c *Capture) read(mat *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam == nil {
		return false
	}
	return c.webcam.Read(mat)
}

// Width returns frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns frame height
func (c *Capture) Height() int {
	return c.height
}

// Outstanding returns the number of frames handed out and not yet released.
func (c *Capture) Outstanding() int64 {
	return c.pool.Outstanding()
}

// Close releases the camera
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam != nil {
		err := c.webcam.Close()
		c.webcam = nil
		return err
	}
	return nil
}
