package frame

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pool recycles RGBA buffers between a frame source and whoever releases
// its frames.
type Pool struct {
	buffers     sync.Pool
	outstanding atomic.Int64
}

// Get returns a tightly packed RGBA frame backed by a pooled buffer. The
// buffer goes back to the pool when the frame is released.
func (p *Pool) Get(width, height, rotation int, ts time.Duration) Frame {
	n := width * height * 4
	var buf []byte
	if b, ok := p.buffers.Get().(*[]byte); ok && cap(*b) >= n {
		buf = (*b)[:n]
	} else {
		buf = make([]byte, n)
	}

	p.outstanding.Add(1)
	return New(width, height, width*4, 4, rotation, ts, buf, func() {
		p.outstanding.Add(-1)
		p.buffers.Put(&buf)
	})
}

// Outstanding returns the number of frames not yet released.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}
