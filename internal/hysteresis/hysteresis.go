// Package hysteresis debounces per-frame eye-closed probabilities into a
// stable eye state with a Schmitt trigger.
package hysteresis

import (
	"fmt"
	"math"
)

// EyeState is the stabilized state of one eye.
type EyeState int

const (
	Unknown EyeState = iota
	Open
	Closed
)

func (s EyeState) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s EyeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *EyeState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = Unknown
	case "open":
		*s = Open
	case "closed":
		*s = Closed
	default:
		return fmt.Errorf("unknown eye state %q", text)
	}
	return nil
}

// Filter holds the two thresholds. Both comparisons are inclusive:
// p >= CloseThresh enters Closed and p <= OpenThresh enters Open.
type Filter struct {
	CloseThresh float32
	OpenThresh  float32
}

// NewFilter validates that CloseThresh is strictly above OpenThresh.
func NewFilter(closeThresh, openThresh float32) (Filter, error) {
	if !(closeThresh > openThresh) {
		return Filter{}, fmt.Errorf("close threshold %v must be greater than open threshold %v", closeThresh, openThresh)
	}
	return Filter{CloseThresh: closeThresh, OpenThresh: openThresh}, nil
}

// Update returns the next state for a closed probability. Values strictly
// between the thresholds keep the current state; NaN never changes it.
func (f Filter) Update(state EyeState, pClosed float32) EyeState {
	if math.IsNaN(float64(pClosed)) {
		return state
	}

	switch state {
	case Closed:
		if pClosed <= f.OpenThresh {
			return Open
		}
		return Closed
	case Open:
		if pClosed >= f.CloseThresh {
			return Closed
		}
		return Open
	default:
		switch {
		case pClosed >= f.CloseThresh:
			return Closed
		case pClosed <= f.OpenThresh:
			return Open
		}
		return Unknown
	}
}
