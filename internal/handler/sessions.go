package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"camstream/internal/logger"
	"camstream/internal/stream"
)

// DefaultSessionLimit is the number of sessions returned without ?limit.
const DefaultSessionLimit = 50

// MaxSessionLimit caps ?limit.
const MaxSessionLimit = 1000

// SessionsHandler lists recent viewer sessions, newest first. It answers
// 404 when the history is disabled.
func SessionsHandler(history SessionHistory, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			http.NotFound(w, r)
			return
		}

		limit := atoiDefault(r.URL.Query().Get("limit"), DefaultSessionLimit)
		if limit > MaxSessionLimit {
			limit = MaxSessionLimit
		}

		sessions, err := history.Recent(limit)
		if err != nil {
			logger.Error("Error reading session history: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, sessions, logger)
	}
}

// SessionHandler returns one session by ID: the live record while the
// viewer is still connected, otherwise the stored one.
func SessionHandler(hub *stream.Hub, history SessionHistory, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if session, ok := hub.Session(id); ok {
			writeJSON(w, session, logger)
			return
		}
		if history == nil {
			http.NotFound(w, r)
			return
		}

		session, err := history.Get(id)
		if err != nil {
			logger.Error("Error reading session %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if session == nil {
			http.NotFound(w, r)
			return
		}

		writeJSON(w, session, logger)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
