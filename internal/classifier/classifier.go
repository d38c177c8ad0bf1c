// Package classifier adapts a binary eye-state model to per-crop
// closed/open probabilities.
package classifier

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/extractor"
)

// Output holds the model's probabilities. Only Closed is used downstream.
type Output struct {
	Closed float32
	Open   float32
}

// Neutral is substituted whenever an eye cannot be classified.
var Neutral = Output{Closed: 0.5, Open: 0.5}

// ErrClosed is returned by models used after Close.
var ErrClosed = errors.New("classifier closed")

// Layout is the tensor layout the model expects.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// Model runs the eye-state network on one packed input.
type Model interface {
	Run(input []float32, shape []int64) ([]float32, error)
	Close() error
}

// Adapter packs crops for a Model and guards it with a single mutex, so
// inference and teardown never overlap and calls on one instance serialize.
type Adapter struct {
	mu     sync.Mutex
	model  Model
	layout Layout
	size   int
	input  []float32
	closed bool
	log    *log.Entry

	failures atomic.Int64
}

// NewAdapter takes ownership of model. size is the crop side length the
// model was trained on.
func NewAdapter(model Model, size int, layout Layout) (*Adapter, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	if size <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %d", size)
	}
	switch layout {
	case "":
		layout = LayoutNHWC
	case LayoutNHWC, LayoutNCHW:
	default:
		return nil, fmt.Errorf("unknown layout %q", layout)
	}

	return &Adapter{
		model:  model,
		layout: layout,
		size:   size,
		input:  make([]float32, size*size*3),
		log:    log.WithField("component", "classifier"),
	}, nil
}

// Classify returns the eye-state probabilities for a crop. A nil crop, a
// closed adapter or any model failure yields Neutral.
func (a *Adapter) Classify(crop *extractor.EyeCrop) Output {
	if crop == nil || crop.Image == nil {
		return Neutral
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Neutral
	}
	if crop.Size() != a.size || crop.Image.Bounds().Dy() != a.size {
		a.log.Warnf("crop is %v, model expects %dx%d", crop.Image.Bounds().Size(), a.size, a.size)
		a.failures.Add(1)
		return Neutral
	}

	a.pack(crop)

	out, err := a.run()
	if err != nil {
		a.log.Warnf("inference failed: %v", err)
		a.failures.Add(1)
		return Neutral
	}
	if len(out) < 2 {
		a.log.Warnf("model returned %d values, want 2", len(out))
		a.failures.Add(1)
		return Neutral
	}
	return Output{Closed: out[0], Open: out[1]}
}

// Failures returns how many crops fell back to Neutral because the model
// could not produce a usable result.
func (a *Adapter) Failures() int64 {
	return a.failures.Load()
}

// run invokes the model, turning a runtime panic into an error.
func (a *Adapter) run() (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("model panic: %v", r)
		}
	}()
	return a.model.Run(a.input, a.shape())
}

// pack writes the crop as float RGB in [0,255]; the model normalizes itself.
func (a *Adapter) pack(crop *extractor.EyeCrop) {
	img := crop.Image
	s := a.size
	plane := s * s
	for y := 0; y < s; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < s; x++ {
			r, g, b := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])
			i := y*s + x
			if a.layout == LayoutNCHW {
				a.input[i] = r
				a.input[plane+i] = g
				a.input[2*plane+i] = b
			} else {
				a.input[i*3] = r
				a.input[i*3+1] = g
				a.input[i*3+2] = b
			}
		}
	}
}

func (a *Adapter) shape() []int64 {
	s := int64(a.size)
	if a.layout == LayoutNCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

// Close tears the model down. Later Classify calls return Neutral.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.model.Close()
}
