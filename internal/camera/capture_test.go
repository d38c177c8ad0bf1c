package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestCapture_SetRotation(t *testing.T) {
	c := &Capture{}

	require.NoError(t, c.SetRotation(270))
	assert.Equal(t, 270, c.Rotation())

	assert.Error(t, c.SetRotation(45))
	assert.Equal(t, 270, c.Rotation())
}

func TestCapture_ToFrameCopiesIntoPool(t *testing.T) {
	c := &Capture{}
	require.NoError(t, c.SetRotation(90))

	const w, h = 4, 3
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC4)
	defer mat.Close()
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = byte(i)
		mat.SetUCharAt(i/(w*4), i%(w*4), pix[i])
	}

	f, err := c.toFrame(mat, 0)
	require.NoError(t, err)
	assert.Equal(t, w, f.Width)
	assert.Equal(t, h, f.Height)
	assert.Equal(t, 90, f.Rotation)
	assert.Equal(t, pix, f.Data)
	assert.Equal(t, int64(1), c.Outstanding())

	// the frame owns a copy, not the Mat's memory
	mat.SetUCharAt(0, 0, 200)
	assert.Equal(t, byte(0), f.Data[0])

	f.Release()
	assert.Equal(t, int64(0), c.Outstanding())

	again, err := c.toFrame(mat, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(200), again.Data[0])
	again.Release()
}
