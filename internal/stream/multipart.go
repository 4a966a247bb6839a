package stream

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Boundary separates the parts of a multipart stream.
const Boundary = "FRAME"

// ContentType is the response type of an MJPEG stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

var (
	partStart  = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: ")
	headersEnd = []byte("\r\n\r\n")
	partEnd    = []byte("\r\n")
)

// WritePart writes one self-describing multipart part holding frame:
//
//	--FRAME\r\n
//	Content-Type: image/jpeg\r\n
//	Content-Length: <n>\r\n
//	\r\n
//	<n bytes>\r\n
//
// It returns the number of bytes written.
func WritePart(w io.Writer, frame []byte) (int, error) {
	head := make([]byte, 0, len(partStart)+20+len(headersEnd))
	head = append(head, partStart...)
	head = strconv.AppendInt(head, int64(len(frame)), 10)
	head = append(head, headersEnd...)

	total := 0
	for _, b := range [][]byte{head, frame, partEnd} {
		n, err := w.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// MultipartWriter writes frames to one HTTP response as an MJPEG stream.
type MultipartWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

// NewMultipartWriter wraps w. A positive timeout bounds each part write so
// a stalled peer cannot hold its session forever.
func NewMultipartWriter(w http.ResponseWriter, timeout time.Duration) *MultipartWriter {
	return &MultipartWriter{w: w, rc: http.NewResponseController(w), timeout: timeout}
}

// WriteHeader sends the response headers and flushes them so clients see
// the stream start before the first frame arrives.
func (m *MultipartWriter) WriteHeader() error {
	h := m.w.Header()
	h.Set("Age", "0")
	h.Set("Cache-Control", "no-cache, private")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Type", ContentType)
	m.w.WriteHeader(http.StatusOK)
	return m.flush()
}

// WriteFrame writes frame as one part and flushes it.
func (m *MultipartWriter) WriteFrame(frame []byte) (int, error) {
	if m.timeout > 0 {
		if err := m.rc.SetWriteDeadline(time.Now().Add(m.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
	}
	n, err := WritePart(m.w, frame)
	if err != nil {
		return n, err
	}
	return n, m.flush()
}

func (m *MultipartWriter) flush() error {
	if err := m.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
