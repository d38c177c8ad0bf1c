package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/drowsiness"
	"github.com/dudu/eyebox/internal/frame"
)

// DefaultOverlayInterval limits subscriber notifications to about 30 per
// second.
const DefaultOverlayInterval = 33 * time.Millisecond

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	// OverlayInterval is the minimum time between subscriber notifications.
	// Snapshots carrying an event are always delivered.
	OverlayInterval time.Duration

	// PauseOnMicrosleep disables the worker after a Fired event.
	PauseOnMicrosleep bool
}

// Worker feeds frames to a Pipeline on a single goroutine. At most one frame
// is pending or in flight; frames submitted meanwhile are dropped.
type Worker struct {
	pipeline *Pipeline
	config   WorkerConfig
	handlers []EventHandler

	frames   chan frame.Frame
	inflight atomic.Bool
	enabled  atomic.Bool
	reset    atomic.Bool

	// stopMu orders sends in Submit against the final drain in Run.
	stopMu  sync.Mutex
	stopped bool

	snapshot atomic.Pointer[Snapshot]

	subsMu sync.Mutex
	subs   map[chan *Snapshot]struct{}

	lastPublish time.Time
	log         *log.Entry
}

// NewWorker creates an enabled worker. Handlers are called on the worker
// goroutine for every Started and Fired outcome.
func NewWorker(p *Pipeline, config WorkerConfig, handlers ...EventHandler) *Worker {
	w := &Worker{
		pipeline: p,
		config:   config,
		handlers: handlers,
		frames:   make(chan frame.Frame, 1),
		subs:     make(map[chan *Snapshot]struct{}),
		log:      log.WithField("component", "worker"),
	}
	w.enabled.Store(true)
	return w
}

// Submit hands a frame to the worker without blocking. It reports whether
// the frame was accepted; a rejected frame is released.
func (w *Worker) Submit(f frame.Frame) bool {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()

	if w.stopped || !w.enabled.Load() {
		f.Release()
		return false
	}
	if !w.inflight.CompareAndSwap(false, true) {
		f.Release()
		w.pipeline.metrics.IncrementDropped()
		return false
	}
	w.frames <- f
	return true
}

// drain stops Submit and releases a frame left in the queue.
func (w *Worker) drain() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()

	w.stopped = true
	select {
	case f := <-w.frames:
		f.Release()
	default:
	}
	w.inflight.Store(false)
}

// Enable resumes analysis.
func (w *Worker) Enable() {
	w.enabled.Store(true)
}

// Disable stops accepting frames. A frame already in flight completes and
// eye states are kept.
func (w *Worker) Disable() {
	w.enabled.Store(false)
}

// Enabled reports whether the worker accepts frames.
func (w *Worker) Enabled() bool {
	return w.enabled.Load()
}

// Reset clears eye states and the closure timer before the next frame is
// processed.
func (w *Worker) Reset() {
	w.reset.Store(true)
}

// Snapshot returns the latest snapshot, or nil before the first frame.
func (w *Worker) Snapshot() *Snapshot {
	return w.snapshot.Load()
}

// Subscribe returns a channel that always holds the most recent snapshot not
// yet received. Call cancel to unsubscribe.
func (w *Worker) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	w.subsMu.Lock()
	w.subs[ch] = struct{}{}
	w.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.subsMu.Lock()
			delete(w.subs, ch)
			w.subsMu.Unlock()
		})
	}
	return ch, cancel
}

// Run processes frames until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	defer w.drain()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-w.frames:
			w.process(ctx, f)
			w.inflight.Store(false)
		}
	}
}

func (w *Worker) process(ctx context.Context, f frame.Frame) {
	if w.reset.CompareAndSwap(true, false) {
		w.pipeline.Reset()
		w.log.Debug("eye states reset")
	}

	snap, err := w.pipeline.Process(f)
	if err != nil {
		if errors.Is(err, frame.ErrInvalidFrame) {
			w.log.Debugf("skipping frame: %v", err)
		} else {
			w.log.Warnf("frame failed: %v", err)
		}
		return
	}

	w.snapshot.Store(snap)
	w.dispatch(ctx, snap)
	w.publish(snap)
}

func (w *Worker) dispatch(ctx context.Context, snap *Snapshot) {
	if snap.Outcome == drowsiness.None {
		return
	}

	ev := drowsiness.Event{
		Outcome:   snap.Outcome,
		At:        time.Now(),
		FrameTime: snap.FrameTime,
		Closure:   snap.Closure,
	}
	entry := w.log.WithFields(log.Fields{"outcome": ev.Outcome, "closure": ev.Closure})
	if ev.Outcome == drowsiness.Fired {
		w.pipeline.metrics.IncrementMicrosleeps()
		entry.Info("microsleep detected")
	} else {
		entry.Info("bilateral closure started")
	}

	for _, h := range w.handlers {
		h.HandleEvent(ctx, ev)
	}

	if ev.Outcome == drowsiness.Fired && w.config.PauseOnMicrosleep {
		w.Disable()
	}
}

func (w *Worker) publish(snap *Snapshot) {
	now := time.Now()
	if snap.Outcome == drowsiness.None && now.Sub(w.lastPublish) < w.config.OverlayInterval {
		return
	}
	w.lastPublish = now

	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for ch := range w.subs {
		// replace an undelivered snapshot with the newer one
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
