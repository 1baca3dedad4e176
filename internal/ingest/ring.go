package ingest

import (
	"context"
	"io"
	"sync"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// Ring is a bounded frame buffer between a producing reader thread and the
// consuming worker loop. When full, Push evicts the oldest frame to admit the
// newest: the producer never blocks and the consumer always sees the
// freshest frames the buffer could hold.
type Ring struct {
	mu      sync.Mutex
	buf     []*vision.Frame
	cap     int
	dropped uint64
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

// NewRing creates a ring buffer with the given capacity (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		cap:    capacity,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push adds a frame, evicting the oldest one when the buffer is full.
// Pushing to a closed ring is a no-op.
func (r *Ring) Push(f *vision.Frame) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.buf) == r.cap {
		r.buf = r.buf[1:]
		r.dropped++
	}
	r.buf = append(r.buf, f)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a frame is available. It returns io.EOF once the ring is
// closed and drained, and the context error if ctx ends first.
func (r *Ring) Pop(ctx context.Context) (*vision.Frame, error) {
	for {
		r.mu.Lock()
		if len(r.buf) > 0 {
			f := r.buf[0]
			r.buf = r.buf[1:]
			r.mu.Unlock()
			return f, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.done:
		case <-r.notify:
		}
	}
}

// TryPop returns the next frame without blocking.
func (r *Ring) TryPop() (*vision.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return nil, false
	}
	f := r.buf[0]
	r.buf = r.buf[1:]
	return f, true
}

// Close ends the frame sequence; buffered frames remain readable until drained.
func (r *Ring) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Dropped returns how many frames were evicted under pressure.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
