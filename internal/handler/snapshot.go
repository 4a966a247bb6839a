package handler

import (
	"net/http"
	"strconv"

	"camstream/internal/broadcast"
)

// SnapshotHandler serves the current frame as a single JPEG.
func SnapshotHandler(b *broadcast.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame := b.Current()
		if frame == nil {
			http.Error(w, "No frame available", http.StatusServiceUnavailable)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "image/jpeg")
		h.Set("Content-Length", strconv.Itoa(len(frame.Data)))
		h.Set("Cache-Control", "no-cache, private")
		h.Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
		w.Write(frame.Data)
	}
}
