// Package broadcast distributes the most recent camera frame to any number
// of concurrent readers.
//
// The broadcaster is a single slot, not a queue: Publish overwrites the
// held frame and wakes every waiting reader. A reader that falls behind
// skips straight to the newest frame; it is never backlogged, and it never
// slows the publisher down.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Next as soon as the broadcaster has been
// closed, even if it still holds a frame the caller has not seen.
var ErrClosed = errors.New("broadcast: closed")

// ErrShutdown is the Close cause used when the server stops on purpose,
// as opposed to the producer failing.
var ErrShutdown = errors.New("server shutting down")

// Frame is one complete JPEG image. Data is shared by every reader and
// must not be modified after Publish.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// Stats is a point-in-time snapshot of broadcaster state.
type Stats struct {
	Published   uint64    `json:"published"`
	Waiting     int       `json:"waiting"`
	Subscribers int       `json:"subscribers"`
	LastPublish time.Time `json:"last_publish"`
	FrameBytes  int       `json:"frame_bytes"`
	Closed      bool      `json:"closed"`
}

// Broadcaster holds the latest frame. The zero value is not usable; use New.
type Broadcaster struct {
	mu      sync.Mutex
	frame   *Frame
	seq     uint64
	ready   chan struct{} // closed and replaced on every Publish
	closed  bool
	err     error
	waiting int
	subs    int
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{ready: make(chan struct{})}
}

// Publish makes data the current frame and wakes all readers blocked in
// Next. It never blocks on readers. Publishing after Close is a no-op.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.seq++
	b.frame = &Frame{Data: data, Seq: b.seq, Timestamp: time.Now()}
	close(b.ready)
	b.ready = make(chan struct{})
}

// Next returns the current frame if its sequence number is greater than
// after, otherwise it blocks until such a frame is published, ctx is done,
// or the broadcaster is closed. Pass 0 to accept whatever frame is held.
// Once closed, Next always fails with ErrClosed.
func (b *Broadcaster) Next(ctx context.Context, after uint64) (*Frame, error) {
	b.mu.Lock()
	for {
		if b.closed {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		if b.frame != nil && b.frame.Seq > after {
			f := b.frame
			b.mu.Unlock()
			return f, nil
		}

		ready := b.ready
		b.waiting++
		b.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			b.mu.Lock()
			b.waiting--
			b.mu.Unlock()
			return nil, ctx.Err()
		}

		b.mu.Lock()
		b.waiting--
	}
}

// Current returns the held frame without waiting, or nil if nothing has
// been published yet or the broadcaster is closed.
func (b *Broadcaster) Current() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	return b.frame
}

// Close stops the broadcaster after a fatal producer failure or on
// shutdown. Waiting readers are woken and, like all later callers, get
// ErrClosed, wrapped around cause when cause is non-nil. Close is
// idempotent; only the first cause is kept.
func (b *Broadcaster) Close(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.err = ErrClosed
	if cause != nil {
		b.err = &closedError{cause: cause}
	}
	close(b.ready)
}

// Stats returns a snapshot of the broadcaster.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Published:   b.seq,
		Waiting:     b.waiting,
		Subscribers: b.subs,
		Closed:      b.closed,
	}
	if b.frame != nil {
		s.LastPublish = b.frame.Timestamp
		s.FrameBytes = len(b.frame.Data)
	}
	return s
}

type closedError struct {
	cause error
}

func (e *closedError) Error() string {
	return ErrClosed.Error() + ": " + e.cause.Error()
}

func (e *closedError) Unwrap() []error {
	return []error{ErrClosed, e.cause}
}
