package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObserveFrame_LatencyEMA(t *testing.T) {
	m := New()
	now := time.Unix(1000, 0)

	m.ObserveFrame(now, 10*time.Millisecond)
	assert.InDelta(t, 10.0, m.Report().LatencyEMA, 1e-9)

	m.ObserveFrame(now.Add(10*time.Millisecond), 20*time.Millisecond)
	assert.InDelta(t, 12.0, m.Report().LatencyEMA, 1e-9)

	r := m.Report()
	assert.Equal(t, int64(2), r.FramesProcessed)
	assert.Equal(t, Stats{Min: 10, Max: 20, Mean: 15}, r.LatencyStats)
}

func TestObserveFrame_FPSWindow(t *testing.T) {
	m := New()
	start := time.Unix(1000, 0)

	// 21 frames 50 ms apart: the window closes on the frame at t=1s.
	for i := 0; i <= 20; i++ {
		m.ObserveFrame(start.Add(time.Duration(i)*50*time.Millisecond), time.Millisecond)
	}

	r := m.Report()
	assert.InDelta(t, 21.0, r.FPS, 1e-9)
	assert.Equal(t, Stats{Min: 21, Max: 21, Mean: 21}, r.FPSStats)
}

func TestObserveFrame_Checkpoints(t *testing.T) {
	m := New()
	start := time.Unix(1000, 0)

	m.ObserveFrame(start, time.Millisecond)
	assert.Equal(t, 0, m.CheckpointsReached())

	m.ObserveFrame(start.Add(5*time.Minute), time.Millisecond)
	assert.Equal(t, 1, m.CheckpointsReached())

	m.ObserveFrame(start.Add(5*time.Minute+time.Second), time.Millisecond)
	assert.Equal(t, 1, m.CheckpointsReached())

	// a long stall crosses both remaining checkpoints at once
	m.ObserveFrame(start.Add(31*time.Minute), time.Millisecond)
	assert.Equal(t, 3, m.CheckpointsReached())
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncrementDropped()
	m.IncrementDropped()
	m.IncrementInvalid()
	m.IncrementNoFace()
	m.IncrementClassifierFailures()
	m.IncrementMicrosleeps()
	m.IncrementWebSocketConnections()
	m.IncrementWebSocketConnections()
	m.DecrementWebSocketConnections()

	r := m.Report()
	assert.Equal(t, int64(2), r.FramesDropped)
	assert.Equal(t, int64(1), r.FramesInvalid)
	assert.Equal(t, int64(1), r.NoFace)
	assert.Equal(t, int64(1), r.ClassifierFailures)
	assert.Equal(t, int64(1), r.Microsleeps)
	assert.Equal(t, int64(1), r.WSConnections)
	assert.Zero(t, r.LatencyEMA)
	assert.Equal(t, Stats{}, r.FPSStats)
}
