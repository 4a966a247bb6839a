package broadcast

import (
	"context"
	"sync"
)

// Subscription is one reader's cursor into a Broadcaster. It remembers the
// last frame it returned so that Next never yields the same or an older
// frame twice. A Subscription must be used by a single goroutine.
type Subscription struct {
	b *Broadcaster

	lastSeq   uint64
	delivered uint64
	skipped   uint64

	closeOnce sync.Once
}

// Subscribe registers a new reader. Callers should Close the subscription
// when done so the subscriber count stays accurate.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	b.subs++
	b.mu.Unlock()
	return &Subscription{b: b}
}

// Next blocks until a frame newer than the last one returned is available.
// The first call returns the currently held frame immediately, if any.
func (s *Subscription) Next(ctx context.Context) (*Frame, error) {
	f, err := s.b.Next(ctx, s.lastSeq)
	if err != nil {
		return nil, err
	}
	if s.lastSeq > 0 && f.Seq > s.lastSeq+1 {
		s.skipped += f.Seq - s.lastSeq - 1
	}
	s.lastSeq = f.Seq
	s.delivered++
	return f, nil
}

// Delivered counts frames returned by Next.
func (s *Subscription) Delivered() uint64 { return s.delivered }

// Skipped counts frames published after this reader's first frame that it
// never saw because a newer one replaced them first.
func (s *Subscription) Skipped() uint64 { return s.skipped }

// Close unregisters the reader. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.b.mu.Lock()
		s.b.subs--
		s.b.mu.Unlock()
	})
}
