package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"camstream/internal/broadcast"
	"camstream/internal/logger"
	"camstream/internal/model"
	"camstream/internal/service/capture"
	"camstream/internal/stream"
)

// CaptureStats reports the state of the capture pipeline.
type CaptureStats interface {
	Stats() capture.Stats
}

// SessionHistory gives access to finished viewer sessions.
type SessionHistory interface {
	Recent(limit int) ([]model.Session, error)
	Get(id string) (*model.Session, error)
	Stats() (*model.SessionStats, error)
}

// Status is the body of /api/status.
type Status struct {
	Uptime    string              `json:"uptime"`
	Broadcast broadcast.Stats     `json:"broadcast"`
	Capture   capture.Stats       `json:"capture"`
	Viewers   int                 `json:"viewers"`
	Sessions  []model.Session     `json:"sessions"`
	History   *model.SessionStats `json:"history,omitempty"`
}

// StatusHandler reports broadcaster, extractor and viewer state as JSON.
// history may be nil.
func StatusHandler(b *broadcast.Broadcaster, pipeline CaptureStats, hub *stream.Hub, history SessionHistory, logger *logger.Logger) http.HandlerFunc {
	started := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		status := Status{
			Uptime:    time.Since(started).Round(time.Second).String(),
			Broadcast: b.Stats(),
			Capture:   pipeline.Stats(),
			Viewers:   hub.Count(),
			Sessions:  hub.Sessions(),
		}
		if history != nil {
			stats, err := history.Stats()
			if err != nil {
				logger.Error("Error reading session history: %v", err)
			}
			status.History = stats
		}

		writeJSON(w, status, logger)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
