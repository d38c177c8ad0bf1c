package extractor

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/eyebox/internal/detector"
	"github.com/dudu/eyebox/internal/frame"
)

func newUpright(w, h int) *frame.UprightImage {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 0xff})
		}
	}
	return &frame.UprightImage{Width: w, Height: h, Image: img}
}

func newExtractor(t *testing.T, deskew bool) *Extractor {
	t.Helper()
	e, err := New(Options{Margin: 0.18, Deskew: deskew, CropSize: 128})
	require.NoError(t, err)
	return e
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{CropSize: 0})
	assert.Error(t, err)
	_, err = New(Options{CropSize: 64, Margin: -0.5})
	assert.Error(t, err)
}

func TestExtract_ProducesFixedSizeSquares(t *testing.T) {
	img := newUpright(320, 240)
	left := detector.NormalizedRect{Left: 0.30, Top: 0.40, Right: 0.42, Bottom: 0.46}
	right := detector.NormalizedRect{Left: 0.58, Top: 0.43, Right: 0.70, Bottom: 0.49}

	for _, deskew := range []bool{false, true} {
		l, r := newExtractor(t, deskew).Extract(img, left, right)
		require.NotNil(t, l)
		require.NotNil(t, r)
		assert.Equal(t, image.Rect(0, 0, 128, 128), l.Image.Bounds())
		assert.Equal(t, image.Rect(0, 0, 128, 128), r.Image.Bounds())
		assert.Equal(t, 128, l.Size())
	}
}

func TestExtract_RandomBoxesNeverPanic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	img := newUpright(160, 120)
	e := newExtractor(t, true)

	randomBox := func() detector.NormalizedRect {
		a, b := rng.Float64(), rng.Float64()
		c, d := rng.Float64(), rng.Float64()
		return detector.NormalizedRect{Left: min(a, b), Right: max(a, b), Top: min(c, d), Bottom: max(c, d)}
	}

	for i := 0; i < 500; i++ {
		left, right := randomBox(), randomBox()
		var l, r *EyeCrop
		assert.NotPanics(t, func() { l, r = e.Extract(img, left, right) })
		for _, c := range []*EyeCrop{l, r} {
			if c != nil {
				assert.Equal(t, 128, c.Image.Bounds().Dx())
				assert.Equal(t, 128, c.Image.Bounds().Dy())
			}
		}
	}
}

func TestExtract_InteriorBoxesAlwaysYieldCrops(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := newUpright(200, 200)
	e := newExtractor(t, true)

	for i := 0; i < 200; i++ {
		cx, cy := 0.3+0.4*rng.Float64(), 0.3+0.4*rng.Float64()
		w, h := 0.05+0.1*rng.Float64(), 0.05+0.1*rng.Float64()
		box := detector.NormalizedRect{Left: cx - w/2, Top: cy - h/2, Right: cx + w/2, Bottom: cy + h/2}

		l, r := e.Extract(img, box, box)
		require.NotNil(t, l)
		require.NotNil(t, r)
		assert.Equal(t, 128, l.Size())
	}
}

func TestExtract_DegenerateBoxFailsOnlyThatEye(t *testing.T) {
	img := newUpright(320, 240)
	degenerate := detector.NormalizedRect{}
	good := detector.NormalizedRect{Left: 0.55, Top: 0.4, Right: 0.7, Bottom: 0.5}

	l, r := newExtractor(t, true).Extract(img, degenerate, good)

	assert.Nil(t, l)
	require.NotNil(t, r)
	assert.Equal(t, 128, r.Size())
}

func TestExtract_NilImage(t *testing.T) {
	l, r := newExtractor(t, false).Extract(nil, detector.NormalizedRect{}, detector.NormalizedRect{})
	assert.Nil(t, l)
	assert.Nil(t, r)
}

func TestToPixels_ClampsEdges(t *testing.T) {
	assert.Equal(t, pixelRect{left: 0, top: 0, right: 1, bottom: 1}, toPixels(detector.NormalizedRect{}, 100, 50))
	assert.Equal(t, pixelRect{left: 99, top: 49, right: 100, bottom: 50},
		toPixels(detector.NormalizedRect{Left: 1, Top: 1, Right: 1, Bottom: 1}, 100, 50))
	assert.Equal(t, pixelRect{left: 25, top: 10, right: 75, bottom: 40},
		toPixels(detector.NormalizedRect{Left: 0.25, Top: 0.2, Right: 0.75, Bottom: 0.8}, 100, 50))
}

func TestSquareRegion(t *testing.T) {
	testCases := map[string]struct {
		box    pixelRect
		margin float64
		want   image.Rectangle
		ok     bool
	}{
		"centered": {
			box:    pixelRect{left: 40, top: 45, right: 60, bottom: 55},
			margin: 0.5,
			want:   image.Rect(35, 35, 65, 65),
			ok:     true,
		},
		"clamped by top edge": {
			box:    pixelRect{left: 40, top: 0, right: 60, bottom: 10},
			margin: 0,
			want:   image.Rect(45, 0, 55, 10),
			ok:     true,
		},
		"corner degenerate": {
			box: pixelRect{left: 0, top: 0, right: 1, bottom: 1},
			ok:  false,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, ok := squareRegion(tc.box, 100, 100, tc.margin)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
				assert.Equal(t, got.Dx(), got.Dy())
			}
		})
	}
}

func TestRollDegrees(t *testing.T) {
	left := detector.NormalizedRect{Left: 0.2, Top: 0.4, Right: 0.3, Bottom: 0.5}
	level := detector.NormalizedRect{Left: 0.6, Top: 0.4, Right: 0.7, Bottom: 0.5}
	lower := detector.NormalizedRect{Left: 0.6, Top: 0.8, Right: 0.7, Bottom: 0.9}
	higher := detector.NormalizedRect{Left: 0.6, Top: 0.0, Right: 0.7, Bottom: 0.1}

	assert.InDelta(t, 0, RollDegrees(left, level, 100, 100), 1e-9)
	assert.InDelta(t, 45, RollDegrees(left, lower, 100, 100), 1e-9)
	assert.InDelta(t, -45, RollDegrees(left, higher, 100, 100), 1e-9)
}

func TestBorderColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 0xff
	}
	img.SetNRGBA(1, 1, color.NRGBA{R: 250, G: 250, B: 250, A: 0xff})

	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff}, borderColor(img))
}

// slantedLine draws a dark 9 px band through (100, 100) with slope 1/4 on a
// white image.
func slantedLine(w, h int) *frame.UprightImage {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	for x := 0; x < w; x++ {
		yc := 100 + float64(x-100)/4
		for y := int(yc) - 4; y <= int(yc)+4; y++ {
			if y >= 0 && y < h {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return &frame.UprightImage{Width: w, Height: h, Image: img}
}

// darkRowCentroid returns the mean row of dark pixels in columns [x0, x1).
func darkRowCentroid(t *testing.T, img *image.NRGBA, x0, x1 int) float64 {
	t.Helper()
	var sum, n float64
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := x0; x < x1; x++ {
			if img.NRGBAAt(x, y).R < 100 {
				sum += float64(y)
				n++
			}
		}
	}
	require.NotZero(t, n, "no dark pixels in columns %d..%d", x0, x1)
	return sum / n
}

func TestExtract_DeskewLevelsTheEyeLine(t *testing.T) {
	img := slantedLine(400, 300)
	// Eye centers at (100, 100) and (300, 150), both on the line.
	left := detector.NormalizedRect{Left: 70 / 400.0, Top: 85 / 300.0, Right: 130 / 400.0, Bottom: 115 / 300.0}
	right := detector.NormalizedRect{Left: 270 / 400.0, Top: 135 / 300.0, Right: 330 / 400.0, Bottom: 165 / 300.0}

	roll := RollDegrees(left, right, img.Width, img.Height)
	require.InDelta(t, 14.04, roll, 0.05)

	t.Run("slanted without deskew", func(t *testing.T) {
		l, r := newExtractor(t, false).Extract(img, left, right)
		require.NotNil(t, l)
		require.NotNil(t, r)
		for _, crop := range []*EyeCrop{l, r} {
			// The line descends to the right, so the right band sits lower.
			diff := darkRowCentroid(t, crop.Image, 80, 112) - darkRowCentroid(t, crop.Image, 16, 48)
			assert.Greater(t, diff, 8.0)
		}
	})

	t.Run("level with deskew", func(t *testing.T) {
		l, r := newExtractor(t, true).Extract(img, left, right)
		require.NotNil(t, l)
		require.NotNil(t, r)
		for _, crop := range []*EyeCrop{l, r} {
			diff := darkRowCentroid(t, crop.Image, 80, 112) - darkRowCentroid(t, crop.Image, 16, 48)
			assert.InDelta(t, 0, diff, 3)
		}
	})
}
