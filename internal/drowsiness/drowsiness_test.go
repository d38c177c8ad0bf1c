package drowsiness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/eyebox/internal/hysteresis"
)

const ms = time.Millisecond

func TestTick_FiresOnceAfterThreshold(t *testing.T) {
	d := New(1000 * ms)

	var outcomes []Outcome
	for ts := 0; ts <= 1500; ts += 100 {
		outcomes = append(outcomes, d.Tick(hysteresis.Closed, hysteresis.Closed, time.Duration(ts)*ms))
	}

	assert.Equal(t, Started, outcomes[0])
	fired := 0
	for i, o := range outcomes {
		if o == Fired {
			fired++
			assert.Equal(t, 10, i, "fires at t=1000ms")
		}
	}
	assert.Equal(t, 1, fired)
}

func TestTick_OpeningResets(t *testing.T) {
	d := New(300 * ms)

	assert.Equal(t, Started, d.Tick(hysteresis.Closed, hysteresis.Closed, 0))
	assert.Equal(t, Fired, d.Tick(hysteresis.Closed, hysteresis.Closed, 300*ms))
	assert.Equal(t, None, d.Tick(hysteresis.Open, hysteresis.Closed, 400*ms))
	assert.Equal(t, ClosureTimer{}, d.Timer())

	assert.Equal(t, Started, d.Tick(hysteresis.Closed, hysteresis.Closed, 500*ms))
	assert.Equal(t, None, d.Tick(hysteresis.Closed, hysteresis.Closed, 700*ms))
	assert.Equal(t, Fired, d.Tick(hysteresis.Closed, hysteresis.Closed, 800*ms))
}

func TestTick_NotBothClosedIsIdempotent(t *testing.T) {
	pairs := [][2]hysteresis.EyeState{
		{hysteresis.Open, hysteresis.Open},
		{hysteresis.Closed, hysteresis.Open},
		{hysteresis.Open, hysteresis.Closed},
		{hysteresis.Unknown, hysteresis.Closed},
		{hysteresis.Closed, hysteresis.Unknown},
		{hysteresis.Unknown, hysteresis.Unknown},
	}

	for _, prior := range []int{0, 1, 20} {
		d := New(time.Second)
		for i := 0; i < prior; i++ {
			d.Tick(hysteresis.Closed, hysteresis.Closed, time.Duration(i)*100*ms)
		}
		for _, p := range pairs {
			for i := 0; i < 3; i++ {
				require.Equal(t, None, d.Tick(p[0], p[1], 5*time.Second))
				require.Equal(t, ClosureTimer{}, d.Timer())
			}
		}
	}
}

func TestTick_ZeroThresholdFiresOnFirstClosure(t *testing.T) {
	d := New(0)
	assert.Equal(t, Fired, d.Tick(hysteresis.Closed, hysteresis.Closed, 42*ms))
	assert.Equal(t, None, d.Tick(hysteresis.Closed, hysteresis.Closed, 43*ms))
	assert.True(t, d.Timer().Fired)
}

func TestTick_SensorScenario(t *testing.T) {
	f, err := hysteresis.NewFilter(0.9, 0.1)
	require.NoError(t, err)
	d := New(1000 * ms)

	left, right := hysteresis.Unknown, hysteresis.Unknown
	firedAt := time.Duration(-1)
	for i := 0; i <= 10; i++ {
		now := time.Duration(i*100) * ms
		left = f.Update(left, 0.95)
		right = f.Update(right, 0.95)
		switch d.Tick(left, right, now) {
		case Started:
			assert.Equal(t, time.Duration(0), now)
		case Fired:
			firedAt = now
		}
	}
	assert.Equal(t, 1000*ms, firedAt)
}

func TestElapsed(t *testing.T) {
	d := New(time.Second)
	assert.Zero(t, d.Elapsed(time.Second))
	d.Tick(hysteresis.Closed, hysteresis.Closed, 200*ms)
	assert.Equal(t, 300*ms, d.Elapsed(500*ms))
	d.Reset()
	assert.Zero(t, d.Elapsed(time.Second))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "fired", Fired.String())
}

func TestOutcome_TextRoundTrip(t *testing.T) {
	for _, o := range []Outcome{None, Started, Fired} {
		text, err := o.MarshalText()
		require.NoError(t, err)

		var got Outcome
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, o, got)
	}

	var o Outcome
	assert.Error(t, o.UnmarshalText([]byte("dozing")))
}
