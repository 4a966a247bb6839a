package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"camstream/internal/logger"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the connection for flushing
// and write deadlines.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// LoggingMiddleware writes one access log entry per request once the
// handler returns. Long-lived streams are logged when they end.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					log.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, p)
					if rec.status == 0 {
						http.Error(rec, "Internal Server Error", http.StatusInternalServerError)
					}
				}

				entry := log.WithFields(logger.Fields{
					"method":   r.Method,
					"path":     r.URL.Path,
					"status":   rec.status,
					"bytes":    rec.bytes,
					"remote":   r.RemoteAddr,
					"duration": time.Since(start).Round(time.Millisecond).String(),
				})
				if rec.status >= http.StatusInternalServerError {
					entry.Warning("Request failed")
				} else {
					entry.Debug("Request served")
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
