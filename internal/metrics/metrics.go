// Package metrics keeps pipeline counters and rolling performance stats.
package metrics

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Checkpoints are the uptimes at which a performance summary is logged.
var Checkpoints = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute}

const emaAlpha = 0.2

// Stats is a min/max/mean summary.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Report is a point-in-time copy of all metrics.
type Report struct {
	FramesProcessed    int64   `json:"frames_processed"`
	FramesDropped      int64   `json:"frames_dropped"`
	FramesInvalid      int64   `json:"frames_invalid"`
	NoFace             int64   `json:"no_face"`
	ClassifierFailures int64   `json:"classifier_failures"`
	Microsleeps        int64   `json:"microsleeps"`
	WSConnections      int64   `json:"ws_connections"`
	FPS                float64 `json:"fps"`
	LatencyEMA         float64 `json:"latency_ema_ms"`
	FPSStats           Stats   `json:"fps_stats"`
	LatencyStats       Stats   `json:"latency_stats"`
}

// String formats the rolling stats on one line.
func (r Report) String() string {
	return fmt.Sprintf("FPS min=%.1f max=%.1f mean=%.1f | LAT min=%.1f max=%.1f mean=%.1f",
		r.FPSStats.Min, r.FPSStats.Max, r.FPSStats.Mean,
		r.LatencyStats.Min, r.LatencyStats.Max, r.LatencyStats.Mean)
}

type running struct {
	min, max, sum float64
	count         int
}

func (r *running) add(v float64) {
	if r.count == 0 {
		r.min, r.max = v, v
	}
	r.min = math.Min(r.min, v)
	r.max = math.Max(r.max, v)
	r.sum += v
	r.count++
}

func (r running) stats() Stats {
	if r.count == 0 {
		return Stats{}
	}
	return Stats{Min: r.min, Max: r.max, Mean: r.sum / float64(r.count)}
}

// Metrics is safe for concurrent use. Counters are lock-free; the
// performance stats are updated by the worker under a mutex.
type Metrics struct {
	framesProcessed    atomic.Int64
	framesDropped      atomic.Int64
	framesInvalid      atomic.Int64
	noFace             atomic.Int64
	classifierFailures atomic.Int64
	microsleeps        atomic.Int64
	wsConnections      atomic.Int64

	mu             sync.Mutex
	start          time.Time
	emaMs          float64
	fpsFrames      int
	fpsWindowStart time.Time
	lastFPS        float64
	fps            running
	latency        running
	nextCheckpoint int

	log *log.Entry
}

func New() *Metrics {
	return &Metrics{
		emaMs: -1,
		log:   log.WithField("component", "metrics"),
	}
}

// ObserveFrame records one processed frame that finished at now and took
// latency end to end.
func (m *Metrics) ObserveFrame(now time.Time, latency time.Duration) {
	m.framesProcessed.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.start.IsZero() {
		m.start = now
	}

	ms := float64(latency) / float64(time.Millisecond)
	if m.emaMs < 0 {
		m.emaMs = ms
	} else {
		m.emaMs = (1-emaAlpha)*m.emaMs + emaAlpha*ms
	}
	m.latency.add(ms)

	if m.fpsWindowStart.IsZero() {
		m.fpsWindowStart = now
	}
	m.fpsFrames++
	if window := now.Sub(m.fpsWindowStart); window >= time.Second {
		m.lastFPS = float64(m.fpsFrames) / window.Seconds()
		m.fpsFrames = 0
		m.fpsWindowStart = now
		if m.lastFPS > 0 {
			m.fps.add(m.lastFPS)
		}
	}

	for m.nextCheckpoint < len(Checkpoints) && now.Sub(m.start) >= Checkpoints[m.nextCheckpoint] {
		m.log.WithField("uptime", Checkpoints[m.nextCheckpoint]).Info(m.reportLocked().String())
		m.nextCheckpoint++
	}
}

// CheckpointsReached returns how many checkpoints have been logged.
func (m *Metrics) CheckpointsReached() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextCheckpoint
}

func (m *Metrics) IncrementDropped() {
	m.framesDropped.Add(1)
}

func (m *Metrics) IncrementInvalid() {
	m.framesInvalid.Add(1)
}

func (m *Metrics) IncrementNoFace() {
	m.noFace.Add(1)
}

func (m *Metrics) IncrementClassifierFailures() {
	m.classifierFailures.Add(1)
}

func (m *Metrics) IncrementMicrosleeps() {
	m.microsleeps.Add(1)
}

// IncrementWebSocketConnections increments the live stream client count
func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

// DecrementWebSocketConnections decrements the live stream client count
func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

// Report returns a copy of the current metrics.
func (m *Metrics) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked()
}

func (m *Metrics) reportLocked() Report {
	ema := m.emaMs
	if ema < 0 {
		ema = 0
	}
	return Report{
		FramesProcessed:    m.framesProcessed.Load(),
		FramesDropped:      m.framesDropped.Load(),
		FramesInvalid:      m.framesInvalid.Load(),
		NoFace:             m.noFace.Load(),
		ClassifierFailures: m.classifierFailures.Load(),
		Microsleeps:        m.microsleeps.Load(),
		WSConnections:      m.wsConnections.Load(),
		FPS:                m.lastFPS,
		LatencyEMA:         ema,
		FPSStats:           m.fps.stats(),
		LatencyStats:       m.latency.stats(),
	}
}
