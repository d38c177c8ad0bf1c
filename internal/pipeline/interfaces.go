package pipeline

import (
	"context"
	"time"

	"github.com/dudu/eyebox/internal/classifier"
	"github.com/dudu/eyebox/internal/detector"
	"github.com/dudu/eyebox/internal/drowsiness"
	"github.com/dudu/eyebox/internal/extractor"
	"github.com/dudu/eyebox/internal/frame"
)

// LandmarkDetector interface for eye landmark detection on upright images
type LandmarkDetector interface {
	Detect(img *frame.UprightImage, rotation int, ts time.Duration) ([]detector.EyePair, error)
	Close() error
}

// EyeClassifier interface for per-crop eye state probabilities
type EyeClassifier interface {
	Classify(crop *extractor.EyeCrop) classifier.Output
	Close() error
}

// Alarm interface for the audible warning
type Alarm interface {
	Play() error
	Stop() error
	Playing() bool
}

// SessionStore interface for the persisted microsleep flag and event log
type SessionStore interface {
	SetMicrosleep(ctx context.Context, on bool) error
	RecordEvent(ctx context.Context, ev drowsiness.Event) error
}

// EventHandler receives Started and Fired events from the worker.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev drowsiness.Event)
}

// failureCounter is implemented by classifiers that count neutral fallbacks.
type failureCounter interface {
	Failures() int64
}
