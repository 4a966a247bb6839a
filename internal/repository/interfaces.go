package repository

import (
	"time"

	"camstream/internal/model"
)

// SessionRepository defines the interface for viewer session history.
type SessionRepository interface {
	// Create operations
	InsertBatch(sessions []model.Session) error

	// Read operations
	GetRecent(limit int) ([]model.Session, error)
	GetByID(id string) (*model.Session, error)
	GetStats() (*model.SessionStats, error)

	// Delete operations
	DeleteOlderThan(cutoff time.Time) (int64, error)
}
