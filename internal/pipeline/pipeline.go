package pipeline

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/detector"
	"github.com/dudu/eyebox/internal/drowsiness"
	"github.com/dudu/eyebox/internal/extractor"
	"github.com/dudu/eyebox/internal/frame"
	"github.com/dudu/eyebox/internal/hysteresis"
	"github.com/dudu/eyebox/internal/metrics"
	"github.com/dudu/eyebox/internal/viewmap"
)

// Options holds the detection tunables
type Options struct {
	CloseThresh        float32
	OpenThresh         float32
	Margin             float64
	CropSize           int
	MicrosleepDuration time.Duration
	Deskew             bool
}

// DefaultOptions returns the tunables the bundled eye model was tuned with.
func DefaultOptions() Options {
	return Options{
		CloseThresh:        0.9,
		OpenThresh:         0.1,
		Margin:             0.18,
		CropSize:           128,
		MicrosleepDuration: time.Second,
		Deskew:             true,
	}
}

// Validate checks the options for consistency
func (o Options) Validate() error {
	if _, err := hysteresis.NewFilter(o.CloseThresh, o.OpenThresh); err != nil {
		return err
	}
	if o.CropSize <= 0 {
		return fmt.Errorf("crop size must be positive, got %d", o.CropSize)
	}
	if o.Margin < 0 || math.IsNaN(o.Margin) {
		return fmt.Errorf("margin must be non-negative, got %v", o.Margin)
	}
	if o.MicrosleepDuration < 0 {
		return fmt.Errorf("microsleep duration must not be negative, got %v", o.MicrosleepDuration)
	}
	return nil
}

// Config holds pipeline configuration
type Config struct {
	Options

	// View is the preview area boxes are mapped into. Mapping is skipped
	// when it is empty.
	View            viewmap.Rect
	DisplayRotation int
	MirrorX         bool

	// KeepImage attaches a copy of the upright image to every snapshot.
	KeepImage bool
}

// Timing holds performance timing information
type Timing struct {
	Normalize time.Duration `json:"normalize"`
	Detection time.Duration `json:"detection"`
	Extract   time.Duration `json:"extract"`
	Classify  time.Duration `json:"classify"`
	Total     time.Duration `json:"total"`
}

// Eye is the published state of one eye.
type Eye struct {
	State   hysteresis.EyeState     `json:"state"`
	PClosed float32                 `json:"p_closed"`
	Box     detector.NormalizedRect `json:"box"`
	View    *viewmap.Rect           `json:"view,omitempty"`
	Cropped bool                    `json:"cropped"`
}

// Snapshot is an immutable view of the pipeline after one frame.
type Snapshot struct {
	Seq       uint64                  `json:"seq"`
	FrameTime time.Duration           `json:"frame_time"`
	Width     int                     `json:"width"`
	Height    int                     `json:"height"`
	FaceFound bool                    `json:"face_found"`
	Left      Eye                     `json:"left"`
	Right     Eye                     `json:"right"`
	Outcome   drowsiness.Outcome      `json:"outcome"`
	Timer     drowsiness.ClosureTimer `json:"timer"`
	Closure   time.Duration           `json:"closure"`
	Timing    Timing                  `json:"timing"`

	Image *image.NRGBA `json:"-"`
}

// Pipeline runs one frame at a time through normalization, landmark
// detection, eye extraction, classification, hysteresis and the closure
// timer. It is not safe for concurrent use; Worker serializes access.
type Pipeline struct {
	config     Config
	detector   LandmarkDetector
	classifier EyeClassifier
	normalizer *frame.Normalizer
	extractor  *extractor.Extractor
	filter     hysteresis.Filter
	drowsy     *drowsiness.Detector
	metrics    *metrics.Metrics

	left, right hysteresis.EyeState
	seq         uint64
	log         *log.Entry
}

// New creates a pipeline that takes ownership of det and cls. Both are
// closed by Close, and also when New fails.
func New(config Config, det LandmarkDetector, cls EyeClassifier, m *metrics.Metrics) (*Pipeline, error) {
	p, err := build(config, det, cls, m)
	if err != nil {
		return nil, errors.Join(err, closeModels(det, cls))
	}
	return p, nil
}

func build(config Config, det LandmarkDetector, cls EyeClassifier, m *metrics.Metrics) (*Pipeline, error) {
	if det == nil || cls == nil {
		return nil, errors.New("landmark detector and classifier are required")
	}
	if err := config.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if !frame.ValidRotation(config.DisplayRotation) {
		return nil, fmt.Errorf("%w: %d", viewmap.ErrUnsupportedRotation, config.DisplayRotation)
	}

	filter, err := hysteresis.NewFilter(config.CloseThresh, config.OpenThresh)
	if err != nil {
		return nil, err
	}
	ext, err := extractor.New(extractor.Options{
		Margin:   config.Margin,
		Deskew:   config.Deskew,
		CropSize: config.CropSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}

	return &Pipeline{
		config:     config,
		detector:   det,
		classifier: cls,
		normalizer: frame.NewNormalizer(),
		extractor:  ext,
		filter:     filter,
		drowsy:     drowsiness.New(config.MicrosleepDuration),
		metrics:    m,
		log:        log.WithField("component", "pipeline"),
	}, nil
}

// Process runs one frame through the pipeline and releases it. An invalid
// frame or a frame without a face leaves eye states and the closure timer
// untouched.
func (p *Pipeline) Process(f frame.Frame) (*Snapshot, error) {
	defer f.Release()

	totalStart := time.Now()
	var timing Timing

	// Normalize
	start := time.Now()
	img, err := p.normalizer.Normalize(f)
	timing.Normalize = time.Since(start)
	if err != nil {
		p.metrics.IncrementInvalid()
		return nil, fmt.Errorf("failed to normalize frame: %w", err)
	}

	p.seq++
	snap := &Snapshot{
		Seq:       p.seq,
		FrameTime: f.Timestamp,
		Width:     img.Width,
		Height:    img.Height,
	}

	// Detect eyes
	start = time.Now()
	pairs, err := p.detector.Detect(img, 0, f.Timestamp)
	timing.Detection = time.Since(start)
	if err != nil {
		p.log.Warnf("landmark detection failed: %v", err)
	}

	if err != nil || len(pairs) == 0 {
		p.metrics.IncrementNoFace()
		p.fillState(snap, f.Timestamp)
		p.finish(snap, img, &timing, totalStart)
		return snap, nil
	}
	pair := pairs[0]

	// Extract crops
	start = time.Now()
	leftCrop, rightCrop := p.extractor.Extract(img, pair.Left, pair.Right)
	timing.Extract = time.Since(start)

	// Classify
	start = time.Now()
	failuresBefore := p.classifierFailures()
	leftOut := p.classifier.Classify(leftCrop)
	rightOut := p.classifier.Classify(rightCrop)
	for n := p.classifierFailures() - failuresBefore; n > 0; n-- {
		p.metrics.IncrementClassifierFailures()
	}
	timing.Classify = time.Since(start)

	// Stabilize and tick the closure timer
	p.left = p.filter.Update(p.left, leftOut.Closed)
	p.right = p.filter.Update(p.right, rightOut.Closed)
	snap.Outcome = p.drowsy.Tick(p.left, p.right, f.Timestamp)

	snap.FaceFound = true
	snap.Left = Eye{PClosed: leftOut.Closed, Box: pair.Left, Cropped: leftCrop != nil}
	snap.Right = Eye{PClosed: rightOut.Closed, Box: pair.Right, Cropped: rightCrop != nil}
	snap.Left.View = p.mapToView(pair.Left, img)
	snap.Right.View = p.mapToView(pair.Right, img)
	p.fillState(snap, f.Timestamp)

	p.log.WithFields(log.Fields{
		"left":    p.left,
		"right":   p.right,
		"pLeft":   leftOut.Closed,
		"pRight":  rightOut.Closed,
		"outcome": snap.Outcome,
	}).Debug("frame processed")

	p.finish(snap, img, &timing, totalStart)
	return snap, nil
}

func (p *Pipeline) fillState(snap *Snapshot, now time.Duration) {
	snap.Left.State = p.left
	snap.Right.State = p.right
	snap.Timer = p.drowsy.Timer()
	snap.Closure = p.drowsy.Elapsed(now)
}

func (p *Pipeline) finish(snap *Snapshot, img *frame.UprightImage, timing *Timing, totalStart time.Time) {
	if p.config.KeepImage {
		snap.Image = imaging.Clone(img.Image)
	}
	timing.Total = time.Since(totalStart)
	snap.Timing = *timing
	p.metrics.ObserveFrame(time.Now(), timing.Total)
}

func (p *Pipeline) mapToView(box detector.NormalizedRect, img *frame.UprightImage) *viewmap.Rect {
	if p.config.View.Width() <= 0 || p.config.View.Height() <= 0 {
		return nil
	}
	src := viewmap.Size{Width: float64(img.Width), Height: float64(img.Height)}
	r, err := viewmap.MapToView(box.Clamp(), p.config.DisplayRotation, p.config.MirrorX, src, p.config.View)
	if err != nil {
		p.log.Debugf("failed to map box: %v", err)
		return nil
	}
	return &r
}

func (p *Pipeline) classifierFailures() int64 {
	if fc, ok := p.classifier.(failureCounter); ok {
		return fc.Failures()
	}
	return 0
}

func (p *Pipeline) states() (left, right hysteresis.EyeState) {
	return p.left, p.right
}

// Reset forgets eye states and the closure timer. Not safe to call
// concurrently with Process.
func (p *Pipeline) Reset() {
	p.left, p.right = hysteresis.Unknown, hysteresis.Unknown
	p.drowsy.Reset()
}

// Metrics returns the metrics the pipeline reports to.
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	return closeModels(p.detector, p.classifier)
}

func closeModels(det LandmarkDetector, cls EyeClassifier) error {
	var errs []error
	if det != nil {
		if err := det.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close landmark detector: %w", err))
		}
	}
	if cls != nil {
		if err := cls.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close classifier: %w", err))
		}
	}
	return errors.Join(errs...)
}
