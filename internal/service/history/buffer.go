// Package history keeps a record of finished viewer sessions.
package history

import (
	"context"
	"sync"
	"time"

	"camstream/internal/logger"
	"camstream/internal/model"
	"camstream/internal/repository"
)

// SessionBufferLimit is how many finished sessions are held in memory
// before a flush is triggered early.
const SessionBufferLimit = 100

// BufferService buffers finished sessions in memory and periodically
// writes them to the repository in one transaction.
type BufferService struct {
	repo   repository.SessionRepository
	logger *logger.Logger

	mu       sync.Mutex
	sessions []model.Session
	dropped  int
	full     chan struct{}
}

// NewBufferService creates a BufferService writing to repo.
func NewBufferService(repo repository.SessionRepository, logger *logger.Logger) *BufferService {
	return &BufferService{
		repo:     repo,
		logger:   logger,
		sessions: make([]model.Session, 0),
		full:     make(chan struct{}, 1),
	}
}

// Record buffers a finished session. It never blocks on the database.
func (s *BufferService) Record(session model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= 2*SessionBufferLimit {
		s.dropped++
		return
	}
	s.sessions = append(s.sessions, session)

	if len(s.sessions) >= SessionBufferLimit {
		select {
		case s.full <- struct{}{}:
		default:
		}
	}
}

// Run flushes every interval, or earlier when the buffer fills, until ctx
// is done. Remaining sessions are flushed before it returns.
func (s *BufferService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
		case <-s.full:
		}
		s.Flush()
	}
}

// Flush writes buffered sessions to the repository. On failure they stay
// buffered for the next attempt.
func (s *BufferService) Flush() error {
	s.mu.Lock()
	pending := s.sessions
	dropped := s.dropped
	s.sessions = make([]model.Session, 0)
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warning("History buffer full, dropped %d sessions", dropped)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.repo.InsertBatch(pending); err != nil {
		s.logger.Error("Error saving sessions to database: %v", err)
		s.mu.Lock()
		s.sessions = append(pending, s.sessions...)
		s.mu.Unlock()
		return err
	}

	s.logger.Debug("Flushed %d sessions to database", len(pending))
	return nil
}

// Pending returns the number of sessions waiting to be written.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Recent flushes pending sessions and returns up to limit stored sessions,
// newest first.
func (s *BufferService) Recent(limit int) ([]model.Session, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s.repo.GetRecent(limit)
}

// Stats flushes pending sessions and aggregates the stored history.
func (s *BufferService) Stats() (*model.SessionStats, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s.repo.GetStats()
}

// Get flushes pending sessions and returns the stored session with id, or
// nil if there is none.
func (s *BufferService) Get(id string) (*model.Session, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s.repo.GetByID(id)
}
