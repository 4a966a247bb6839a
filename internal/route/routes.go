package route

import (
	"net/http"

	"github.com/gorilla/mux"

	"camstream/internal/broadcast"
	"camstream/internal/config"
	"camstream/internal/handler"
	"camstream/internal/logger"
	"camstream/internal/middleware"
	"camstream/internal/stream"
)

// SetupRoutes registers the page, stream and API endpoints and wraps the
// router with the access log middleware. history may be nil when session
// history is disabled.
func SetupRoutes(cfg *config.Config, logger *logger.Logger, b *broadcast.Broadcaster,
	pipeline handler.CaptureStats, hub *stream.Hub, history handler.SessionHistory) http.Handler {
	r := mux.NewRouter()

	// Pages
	r.HandleFunc("/", handler.RedirectHandler("/index.html")).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.html", handler.IndexHandler(cfg, logger)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/logs", handler.LogsHandler(cfg)).Methods(http.MethodGet, http.MethodHead)

	// Streams
	r.HandleFunc("/stream.mjpg", handler.StreamHandler(hub, cfg)).Methods(http.MethodGet)
	r.HandleFunc("/ws", handler.ViewWebsocketHandler(hub, cfg, logger)).Methods(http.MethodGet)
	r.HandleFunc("/snapshot.jpg", handler.SnapshotHandler(b)).Methods(http.MethodGet, http.MethodHead)

	// API endpoints
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", handler.StatusHandler(b, pipeline, hub, history, logger)).Methods(http.MethodGet)
	api.HandleFunc("/sessions", handler.SessionsHandler(history, logger)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", handler.SessionHandler(hub, history, logger)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	return middleware.LoggingMiddleware(logger)(r)
}
