// Package stream serves the latest camera frames to individual viewers.
//
// Every viewer connection gets its own Session, run on the connection's
// goroutine. A session only waits on the shared broadcaster and writes to
// its own connection, so a slow or broken viewer affects nobody else.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"camstream/internal/broadcast"
	"camstream/internal/logger"
	"camstream/internal/model"
)

// FrameWriter delivers one frame to a viewer and reports the bytes written.
type FrameWriter interface {
	WriteFrame(frame []byte) (int, error)
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(frame []byte) (int, error)

// WriteFrame calls f(frame).
func (f FrameWriterFunc) WriteFrame(frame []byte) (int, error) { return f(frame) }

// Session is one viewer connection.
type Session struct {
	id         string
	transport  string
	remoteAddr string
	userAgent  string
	started    time.Time

	sub *broadcast.Subscription
	log *logger.Logger

	frames  atomic.Int64
	bytes   atomic.Int64
	skipped atomic.Int64
}

func newSession(sub *broadcast.Subscription, transport, remoteAddr, userAgent string, log *logger.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		transport:  transport,
		remoteAddr: remoteAddr,
		userAgent:  userAgent,
		started:    time.Now(),
		sub:        sub,
		log:        log.WithFields(logger.Fields{"session": id, "remote": remoteAddr, "transport": transport}),
	}
}

// ID is the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Serve waits for each new frame and writes it with w until ctx is done,
// the broadcaster closes, or a write fails. It always returns a non-nil
// error describing why the session ended.
func (s *Session) Serve(ctx context.Context, w FrameWriter) error {
	for {
		f, err := s.sub.Next(ctx)
		if err != nil {
			return err
		}
		s.skipped.Store(int64(s.sub.Skipped()))

		n, err := w.WriteFrame(f.Data)
		s.bytes.Add(int64(n))
		if err != nil {
			return fmt.Errorf("write frame %d: %w", f.Seq, err)
		}
		s.frames.Add(1)
	}
}

// Record returns the session as a history record. A zero end time means the
// session is still running.
func (s *Session) Record(ended time.Time, reason string) model.Session {
	return model.Session{
		ID:            s.id,
		Transport:     s.transport,
		RemoteAddr:    s.remoteAddr,
		UserAgent:     s.userAgent,
		StartedAt:     s.started,
		EndedAt:       ended,
		FramesSent:    s.frames.Load(),
		FramesSkipped: s.skipped.Load(),
		BytesSent:     s.bytes.Load(),
		EndReason:     reason,
	}
}

// EndReason classifies the error returned by Serve.
func EndReason(err error) string {
	switch {
	case errors.Is(err, broadcast.ErrShutdown):
		return model.EndServerShutdown
	case errors.Is(err, broadcast.ErrClosed):
		return model.EndSourceClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.EndClientClosed
	default:
		return model.EndWriteError
	}
}
