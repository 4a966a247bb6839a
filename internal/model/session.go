package model

import "time"

// Transports a viewer session can use.
const (
	TransportMJPEG     = "mjpeg"
	TransportWebsocket = "websocket"
)

// Reasons a viewer session ended.
const (
	EndClientClosed   = "client_closed"
	EndSourceClosed   = "source_closed"
	EndServerShutdown = "server_shutdown"
	EndWriteError     = "write_error"
)

// Session represents one finished (or running) viewer connection.
type Session struct {
	ID            string    `json:"id"`
	Transport     string    `json:"transport"`
	RemoteAddr    string    `json:"remote_addr"`
	UserAgent     string    `json:"user_agent"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	FramesSent    int64     `json:"frames_sent"`
	FramesSkipped int64     `json:"frames_skipped"`
	BytesSent     int64     `json:"bytes_sent"`
	EndReason     string    `json:"end_reason,omitempty"`
}

// Duration is how long the session lasted, or has lasted so far.
func (s *Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// SessionStats aggregates stored sessions.
type SessionStats struct {
	TotalSessions int            `json:"total_sessions"`
	TotalFrames   int64          `json:"total_frames"`
	TotalBytes    int64          `json:"total_bytes"`
	PerTransport  map[string]int `json:"per_transport"`
	PerEndReason  map[string]int `json:"per_end_reason"`
}
