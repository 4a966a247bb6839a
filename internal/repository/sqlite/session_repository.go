package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"camstream/internal/model"
)

const insertSession = `
	INSERT OR REPLACE INTO sessions
		(id, transport, remote_addr, user_agent, started_at, ended_at, frames_sent, frames_skipped, bytes_sent, end_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectSession = `
	SELECT id, transport, remote_addr, user_agent, started_at, ended_at, frames_sent, frames_skipped, bytes_sent, end_reason
	FROM sessions
`

// SessionRepository implements repository.SessionRepository for SQLite.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func sessionArgs(s *model.Session) []any {
	return []any{
		s.ID, s.Transport, s.RemoteAddr, s.UserAgent,
		s.StartedAt.UTC(), s.EndedAt.UTC(),
		s.FramesSent, s.FramesSkipped, s.BytesSent, s.EndReason,
	}
}

// InsertBatch stores sessions in a single transaction. Storing the same ID
// again replaces it.
func (r *SessionRepository) InsertBatch(sessions []model.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSession)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range sessions {
		if _, err := stmt.Exec(sessionArgs(&sessions[i])...); err != nil {
			return fmt.Errorf("failed to insert session %s: %w", sessions[i].ID, err)
		}
	}

	return tx.Commit()
}

// GetRecent returns up to limit sessions, newest first.
func (r *SessionRepository) GetRecent(limit int) ([]model.Session, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(selectSession+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	return sessions, nil
}

// GetByID retrieves a session by its ID, or nil if it is unknown.
func (r *SessionRepository) GetByID(id string) (*model.Session, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSession(r.db.Conn().QueryRow(selectSession+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// GetStats aggregates all stored sessions.
func (r *SessionRepository) GetStats() (*model.SessionStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.SessionStats{
		PerTransport: make(map[string]int),
		PerEndReason: make(map[string]int),
	}

	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(frames_sent), 0), COALESCE(SUM(bytes_sent), 0) FROM sessions
	`).Scan(&stats.TotalSessions, &stats.TotalFrames, &stats.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}

	if err := r.countBy("transport", stats.PerTransport); err != nil {
		return nil, err
	}
	if err := r.countBy("end_reason", stats.PerEndReason); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *SessionRepository) countBy(column string, into map[string]int) error {
	rows, err := r.db.Conn().Query(`SELECT ` + column + `, COUNT(*) FROM sessions GROUP BY ` + column)
	if err != nil {
		return fmt.Errorf("failed to count sessions by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		into[key] = count
	}
	return rows.Err()
}

// DeleteOlderThan removes sessions that started before cutoff.
func (r *SessionRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM sessions WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.Transport, &s.RemoteAddr, &s.UserAgent, &s.StartedAt, &s.EndedAt,
		&s.FramesSent, &s.FramesSkipped, &s.BytesSent, &s.EndReason)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}
