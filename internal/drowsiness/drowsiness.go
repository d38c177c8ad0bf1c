// Package drowsiness turns a pair of stabilized eye states into a one-shot
// microsleep event.
package drowsiness

import (
	"fmt"
	"time"

	"github.com/dudu/eyebox/internal/hysteresis"
)

// Outcome is the result of one Tick.
type Outcome int

const (
	None Outcome = iota
	Started
	Fired
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Fired:
		return "fired"
	default:
		return "none"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*o = None
	case "started":
		*o = Started
	case "fired":
		*o = Fired
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// ClosureTimer tracks one continuous bilateral closure episode.
type ClosureTimer struct {
	Started bool          `json:"started"`
	Start   time.Duration `json:"start"`
	Fired   bool          `json:"fired"`
}

// Event reports a Started or Fired outcome to whoever acts on it.
type Event struct {
	Outcome   Outcome       `json:"outcome"`
	At        time.Time     `json:"at"`
	FrameTime time.Duration `json:"frame_time"`
	Closure   time.Duration `json:"closure"`
}

// Detector fires once per episode in which both eyes stay closed for at
// least Threshold. It is not safe for concurrent use.
type Detector struct {
	Threshold time.Duration
	timer     ClosureTimer
}

// New creates a detector with a reset timer.
func New(threshold time.Duration) *Detector {
	return &Detector{Threshold: threshold}
}

// Tick advances the timer with the current eye states at monotonic time now.
func (d *Detector) Tick(left, right hysteresis.EyeState, now time.Duration) Outcome {
	if left != hysteresis.Closed || right != hysteresis.Closed {
		d.timer = ClosureTimer{}
		return None
	}

	outcome := None
	if !d.timer.Started {
		d.timer.Started = true
		d.timer.Start = now
		outcome = Started
	}

	if !d.timer.Fired && now-d.timer.Start >= d.Threshold {
		d.timer.Fired = true
		outcome = Fired
	}
	return outcome
}

// Timer returns a copy of the closure timer.
func (d *Detector) Timer() ClosureTimer {
	return d.timer
}

// Elapsed returns how long the current episode has lasted, or 0.
func (d *Detector) Elapsed(now time.Duration) time.Duration {
	if !d.timer.Started {
		return 0
	}
	return now - d.timer.Start
}

// Reset clears the timer.
func (d *Detector) Reset() {
	d.timer = ClosureTimer{}
}
