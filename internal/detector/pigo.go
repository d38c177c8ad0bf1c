package detector

import (
	"fmt"
	"os"
	"time"

	pigo "github.com/esimov/pigo/core"
	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/frame"
)

// PigoConfig configures the cascade based eye landmark detector.
type PigoConfig struct {
	FaceCascadePath  string
	PupilCascadePath string

	MinFaceSize  int
	MaxFaceSize  int // 0 means the smaller image dimension
	ShiftFactor  float64
	ScaleFactor  float64
	MinScore     float32
	IoUThreshold float64
	Perturbs     int

	// Eye box size relative to the detected face scale.
	EyeWidth  float64
	EyeHeight float64
}

// DefaultPigoConfig returns the settings used for frontal driver-facing cameras.
func DefaultPigoConfig() PigoConfig {
	return PigoConfig{
		MinFaceSize:  80,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		MinScore:     5.0,
		IoUThreshold: 0.2,
		Perturbs:     63,
		EyeWidth:     0.22,
		EyeHeight:    0.12,
	}
}

// Pigo detects faces with a pixel-intensity-comparison cascade and localizes
// both pupils, returning one eye box pair per face.
type Pigo struct {
	config PigoConfig
	face   *pigo.Pigo
	pupil  *pigo.PuplocCascade
	gray   []uint8
	log    *log.Entry
}

// NewPigo loads the face and pupil cascades from disk.
func NewPigo(config PigoConfig) (*Pigo, error) {
	faceData, err := os.ReadFile(config.FaceCascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read face cascade: %w", err)
	}
	pupilData, err := os.ReadFile(config.PupilCascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pupil cascade: %w", err)
	}
	return NewPigoFromData(config, faceData, pupilData)
}

// NewPigoFromData builds a detector from already loaded cascade files.
func NewPigoFromData(config PigoConfig, faceData, pupilData []byte) (*Pigo, error) {
	face, err := pigo.NewPigo().Unpack(faceData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face cascade: %w", err)
	}
	pupil, err := pigo.NewPuplocCascade().UnpackCascade(pupilData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack pupil cascade: %w", err)
	}

	return &Pigo{
		config: config,
		face:   face,
		pupil:  pupil,
		log:    log.WithField("component", "detector"),
	}, nil
}

// Detect finds faces in an upright image and returns their eye boxes,
// most confident face first. The rotation hint must be 0 because the image
// is already upright.
func (p *Pigo) Detect(img *frame.UprightImage, rotation int, ts time.Duration) ([]EyePair, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if rotation != 0 {
		return nil, fmt.Errorf("unsupported rotation hint %d", rotation)
	}

	params := p.imageParams(img)

	maxSize := p.config.MaxFaceSize
	if maxSize == 0 {
		maxSize = min(img.Width, img.Height)
	}
	dets := p.face.RunCascade(pigo.CascadeParams{
		MinSize:     p.config.MinFaceSize,
		MaxSize:     maxSize,
		ShiftFactor: p.config.ShiftFactor,
		ScaleFactor: p.config.ScaleFactor,
		ImageParams: params,
	}, 0)
	dets = p.face.ClusterDetections(dets, p.config.IoUThreshold)

	faces := make([]face, 0, len(dets))
	for _, det := range dets {
		if det.Q < p.config.MinScore {
			continue
		}
		eyes, ok := p.locateEyes(det, params, img.Width, img.Height)
		if !ok {
			continue
		}
		faces = append(faces, face{
			Box:   p.faceBox(det, img.Width, img.Height),
			Eyes:  eyes,
			Score: det.Q,
		})
	}
	faces = nms(faces, p.config.IoUThreshold)

	pairs := make([]EyePair, len(faces))
	for i, f := range faces {
		pairs[i] = f.Eyes
	}

	p.log.WithFields(log.Fields{
		"ts":    ts,
		"faces": len(pairs),
	}).Trace("landmarks")

	return pairs, nil
}

// imageParams converts the image to the grayscale plane pigo works on,
// reusing the buffer between frames of the same size.
func (p *Pigo) imageParams(img *frame.UprightImage) pigo.ImageParams {
	n := img.Width * img.Height
	if cap(p.gray) < n {
		p.gray = make([]uint8, n)
	}
	p.gray = p.gray[:n]

	src := img.Image
	for y := 0; y < img.Height; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < img.Width; x++ {
			r, g, b := float64(row[x*4]), float64(row[x*4+1]), float64(row[x*4+2])
			p.gray[y*img.Width+x] = uint8(0.299*r + 0.587*g + 0.114*b)
		}
	}

	return pigo.ImageParams{
		Pixels: p.gray,
		Rows:   img.Height,
		Cols:   img.Width,
		Dim:    img.Width,
	}
}

// locateEyes runs the pupil cascade on both eye regions of a face.
func (p *Pigo) locateEyes(det pigo.Detection, params pigo.ImageParams, width, height int) (EyePair, bool) {
	scale := float32(det.Scale)

	left := p.pupil.RunDetector(pigo.Puploc{
		Row:      det.Row - int(0.075*scale),
		Col:      det.Col - int(0.175*scale),
		Scale:    scale * 0.25,
		Perturbs: p.config.Perturbs,
	}, params, 0, false)
	right := p.pupil.RunDetector(pigo.Puploc{
		Row:      det.Row - int(0.075*scale),
		Col:      det.Col + int(0.185*scale),
		Scale:    scale * 0.25,
		Perturbs: p.config.Perturbs,
	}, params, 0, false)

	if left == nil || right == nil || left.Row <= 0 || left.Col <= 0 || right.Row <= 0 || right.Col <= 0 {
		return EyePair{}, false
	}

	pair := EyePair{
		Left:  p.eyeBox(left.Col, left.Row, det.Scale, width, height),
		Right: p.eyeBox(right.Col, right.Row, det.Scale, width, height),
	}
	if pair.Left.Center().X > pair.Right.Center().X {
		pair.Left, pair.Right = pair.Right, pair.Left
	}
	return pair, true
}

// eyeBox builds a normalized box around a pupil, sized from the face scale.
func (p *Pigo) eyeBox(col, row, faceScale, width, height int) NormalizedRect {
	hw := p.config.EyeWidth * float64(faceScale) / 2
	hh := p.config.EyeHeight * float64(faceScale) / 2
	cx, cy := float64(col), float64(row)

	return NormalizedRect{
		Left:   (cx - hw) / float64(width),
		Top:    (cy - hh) / float64(height),
		Right:  (cx + hw) / float64(width),
		Bottom: (cy + hh) / float64(height),
	}.Clamp()
}

func (p *Pigo) faceBox(det pigo.Detection, width, height int) NormalizedRect {
	half := float64(det.Scale) / 2
	return NormalizedRect{
		Left:   (float64(det.Col) - half) / float64(width),
		Top:    (float64(det.Row) - half) / float64(height),
		Right:  (float64(det.Col) + half) / float64(width),
		Bottom: (float64(det.Row) + half) / float64(height),
	}.Clamp()
}

// Close releases detector resources
func (p *Pigo) Close() error {
	p.gray = nil
	return nil
}
