package handler

import (
	"net/http"

	"camstream/internal/config"
	"camstream/internal/model"
	"camstream/internal/stream"
)

// StreamHandler serves the live MJPEG stream as multipart/x-mixed-replace.
// The session runs on the request goroutine until the viewer leaves, a
// write fails or the stream ends.
func StreamHandler(hub *stream.Hub, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw := stream.NewMultipartWriter(w, cfg.WriteTimeout)
		session := hub.Open(model.TransportMJPEG, r.RemoteAddr, r.UserAgent())

		err := mw.WriteHeader()
		if err == nil {
			err = session.Serve(r.Context(), mw)
		}
		hub.Close(session, err)
	}
}
