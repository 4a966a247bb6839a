package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"camstream/internal/broadcast"
	"camstream/internal/logger"
	"camstream/internal/model"
)

// Recorder receives the record of every finished session.
type Recorder interface {
	Record(session model.Session)
}

// Hub opens and tracks viewer sessions over one broadcaster.
type Hub struct {
	broadcaster *broadcast.Broadcaster
	recorder    Recorder
	logger      *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	// changed is closed and replaced whenever a session is removed.
	changed chan struct{}
}

// NewHub creates a Hub. recorder may be nil.
func NewHub(broadcaster *broadcast.Broadcaster, recorder Recorder, logger *logger.Logger) *Hub {
	return &Hub{
		broadcaster: broadcaster,
		recorder:    recorder,
		logger:      logger,
		sessions:    make(map[string]*Session),
		changed:     make(chan struct{}),
	}
}

// Open registers a new session subscribed to the broadcaster.
func (h *Hub) Open(transport, remoteAddr, userAgent string) *Session {
	s := newSession(h.broadcaster.Subscribe(), transport, remoteAddr, userAgent, h.logger)

	h.mu.Lock()
	h.sessions[s.id] = s
	total := len(h.sessions)
	h.mu.Unlock()

	s.log.Info("Viewer connected. Total: %d", total)
	return s
}

// Close hands the record of s to the recorder after Serve returned err,
// then unregisters it. A session is only dropped from Count once its
// record has been handed over.
func (h *Hub) Close(s *Session, err error) {
	s.sub.Close()

	reason := EndReason(err)
	record := s.Record(time.Now(), reason)
	if h.recorder != nil {
		h.recorder.Record(record)
	}

	h.mu.Lock()
	delete(h.sessions, s.id)
	total := len(h.sessions)
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()

	switch reason {
	case model.EndWriteError:
		s.log.Warning("Removed streaming client after %d frames: %v", record.FramesSent, err)
	default:
		s.log.Info("Viewer disconnected (%s) after %d frames. Total: %d", reason, record.FramesSent, total)
	}
}

// Wait blocks until every open session has been closed or ctx is done.
func (h *Hub) Wait(ctx context.Context) error {
	for {
		h.mu.RLock()
		n := len(h.sessions)
		changed := h.changed
		h.mu.RUnlock()

		if n == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Count returns the number of active sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Session returns the live record of the open session with id.
func (h *Hub) Session(id string) (model.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return s.Record(time.Time{}, ""), true
}

// Sessions returns a snapshot of the active sessions, oldest first.
func (h *Hub) Sessions() []model.Session {
	h.mu.RLock()
	records := make([]model.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		records = append(records, s.Record(time.Time{}, ""))
	}
	h.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records
}
