package frame

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeFrame builds a w x h RGBA frame where pixel (x, y) has R=x, G=y, B=x+y,
// with rowPad bytes of sensor padding after every row.
func makeFrame(w, h, rowPad, rotation int) Frame {
	stride := w*4 + rowPad
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*stride + x*4
			data[off] = byte(x)
			data[off+1] = byte(y)
			data[off+2] = byte(x + y)
			data[off+3] = 7
		}
		for p := 0; p < rowPad; p++ {
			data[y*stride+w*4+p] = 0xee
		}
	}
	return New(w, h, stride, 4, rotation, 0, data, nil)
}

func pixel(img *UprightImage, x, y int) [4]byte {
	off := y*img.Image.Stride + x*4
	p := img.Image.Pix[off : off+4]
	return [4]byte{p[0], p[1], p[2], p[3]}
}

func TestNormalize_PaddedStride(t *testing.T) {
	n := NewNormalizer()
	img, err := n.Normalize(makeFrame(5, 3, 12, 0))
	require.NoError(t, err)

	assert.Equal(t, 5, img.Width)
	assert.Equal(t, 3, img.Height)
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			assert.Equal(t, [4]byte{byte(x), byte(y), byte(x + y), 0xff}, pixel(img, x, y))
		}
	}
}

func TestNormalize_Rotations(t *testing.T) {
	const w, h = 4, 3
	// src returns the source coordinate that lands on destination (x, y).
	testCases := []struct {
		rotation     int
		wantW, wantH int
		src          func(x, y int) (int, int)
	}{
		{0, w, h, func(x, y int) (int, int) { return x, y }},
		{90, h, w, func(x, y int) (int, int) { return y, h - 1 - x }},
		{180, w, h, func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }},
		{270, h, w, func(x, y int) (int, int) { return w - 1 - y, x }},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("rotate%d", tc.rotation), func(t *testing.T) {
			img, err := NewNormalizer().Normalize(makeFrame(w, h, 4, tc.rotation))
			require.NoError(t, err)
			require.Equal(t, tc.wantW, img.Width)
			require.Equal(t, tc.wantH, img.Height)

			for y := 0; y < tc.wantH; y++ {
				for x := 0; x < tc.wantW; x++ {
					sx, sy := tc.src(x, y)
					assert.Equal(t, [4]byte{byte(sx), byte(sy), byte(sx + sy), 0xff}, pixel(img, x, y),
						"rotation %d dst (%d,%d)", tc.rotation, x, y)
				}
			}
		})
	}
}

func TestNormalize_CacheReallocatesOnlyOnKeyChange(t *testing.T) {
	n := NewNormalizer()

	first, err := n.Normalize(makeFrame(6, 4, 0, 90))
	require.NoError(t, err)
	second, err := n.Normalize(makeFrame(6, 4, 8, 90))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, n.Reallocations())

	_, err = n.Normalize(makeFrame(6, 4, 0, 270))
	require.NoError(t, err)
	assert.Equal(t, 2, n.Reallocations())

	_, err = n.Normalize(makeFrame(8, 4, 0, 270))
	require.NoError(t, err)
	assert.Equal(t, 3, n.Reallocations())
}

func TestNormalize_InvalidFrames(t *testing.T) {
	good := makeFrame(4, 4, 0, 0)

	testCases := map[string]Frame{
		"zero width":   New(0, 4, 16, 4, 0, 0, good.Data, nil),
		"zero height":  New(4, 0, 16, 4, 0, 0, good.Data, nil),
		"bad rotation": New(4, 4, 16, 4, 45, 0, good.Data, nil),
		"short stride": New(4, 4, 12, 4, 0, 0, good.Data, nil),
		"short pixel":  New(4, 4, 16, 3, 0, 0, good.Data, nil),
		"short buffer": New(4, 4, 16, 4, 0, 0, good.Data[:40], nil),
	}

	for name, f := range testCases {
		t.Run(name, func(t *testing.T) {
			n := NewNormalizer()
			img, err := n.Normalize(f)
			assert.Nil(t, img)
			assert.True(t, errors.Is(err, ErrInvalidFrame))
			assert.Equal(t, 0, n.Reallocations())
		})
	}
}

func TestFrame_ReleaseRunsOnce(t *testing.T) {
	calls := 0
	f := New(1, 1, 4, 4, 0, 0, make([]byte, 4), func() { calls++ })

	f.Release()
	copied := f
	copied.Release()

	assert.Equal(t, 1, calls)
}
