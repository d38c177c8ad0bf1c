package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedRect_Geometry(t *testing.T) {
	r := NormalizedRect{Left: 0.2, Top: 0.4, Right: 0.6, Bottom: 0.5}

	assert.InDelta(t, 0.4, r.Width(), 1e-12)
	assert.InDelta(t, 0.1, r.Height(), 1e-12)
	assert.InDelta(t, 0.04, r.Area(), 1e-12)
	assert.InDelta(t, 0.4, r.Center().X, 1e-12)
	assert.InDelta(t, 0.45, r.Center().Y, 1e-12)
	assert.True(t, r.Valid())
}

func TestNormalizedRect_Valid(t *testing.T) {
	testCases := map[string]struct {
		rect NormalizedRect
		want bool
	}{
		"degenerate":   {NormalizedRect{}, true},
		"full":         {NormalizedRect{0, 0, 1, 1}, true},
		"inverted":     {NormalizedRect{0.5, 0, 0.4, 1}, false},
		"out of range": {NormalizedRect{-0.1, 0, 0.4, 1}, false},
		"nan":          {NormalizedRect{math.NaN(), 0, 0.4, 1}, false},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rect.Valid())
		})
	}
}

func TestNormalizedRect_Clamp(t *testing.T) {
	got := NormalizedRect{Left: 1.2, Top: -0.3, Right: 0.4, Bottom: 0.7}.Clamp()
	assert.Equal(t, NormalizedRect{Left: 0.4, Top: 0, Right: 1, Bottom: 0.7}, got)
	assert.True(t, got.Valid())
}

func TestNMS_KeepsMostConfidentFirst(t *testing.T) {
	faces := []face{
		{Box: NormalizedRect{0.1, 0.1, 0.4, 0.4}, Score: 6},
		{Box: NormalizedRect{0.12, 0.1, 0.42, 0.4}, Score: 9},
		{Box: NormalizedRect{0.6, 0.6, 0.9, 0.9}, Score: 7},
	}

	got := nms(faces, 0.3)

	if assert.Len(t, got, 2) {
		assert.Equal(t, float32(9), got[0].Score)
		assert.Equal(t, float32(7), got[1].Score)
	}
}

func TestIoU(t *testing.T) {
	a := NormalizedRect{0, 0, 0.5, 0.5}
	assert.InDelta(t, 1.0, iou(a, a), 1e-12)
	assert.Zero(t, iou(a, NormalizedRect{0.5, 0.5, 1, 1}))
	assert.InDelta(t, 1.0/7.0, iou(a, NormalizedRect{0.25, 0.25, 0.75, 0.75}), 1e-12)
}

func TestPigo_EyeBoxIsCenteredOnPupil(t *testing.T) {
	p := &Pigo{config: DefaultPigoConfig()}

	box := p.eyeBox(100, 50, 200, 400, 200)

	assert.InDelta(t, 0.25, box.Center().X, 1e-9)
	assert.InDelta(t, 0.25, box.Center().Y, 1e-9)
	assert.InDelta(t, 0.22*200/400, box.Width(), 1e-9)
	assert.InDelta(t, 0.12*200/200, box.Height(), 1e-9)
}
