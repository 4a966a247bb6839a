// Package mjpeg recovers individual JPEG frames from a raw MJPEG
// elementary stream, such as the stdout of rpicam-vid --codec mjpeg.
package mjpeg

import (
	"bytes"
	"errors"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// ErrFrameTooLarge is returned by Feed when a frame in progress grows past
// the configured maximum without an end marker.
var ErrFrameTooLarge = errors.New("mjpeg: frame exceeds maximum size")

type state int

const (
	seekingStart state = iota
	seekingEnd
)

func (s state) String() string {
	if s == seekingEnd {
		return "seeking_end"
	}
	return "seeking_start"
}

// Stats counts what an Extractor has seen so far.
type Stats struct {
	Frames         uint64 `json:"frames"`
	BytesIn        uint64 `json:"bytes_in"`
	BytesDiscarded uint64 `json:"bytes_discarded"`
	PartialFrames  uint64 `json:"partial_frames"`
}

// Extractor is an incremental JPEG frame splitter. It pairs the first start
// marker (FF D8) with the first end marker (FF D9) that follows it and
// drops any bytes outside such a pair. The output does not depend on how
// the input is chunked.
//
// An Extractor is not safe for concurrent use.
type Extractor struct {
	maxFrameSize int

	state state
	// seekingStart: at most one trailing 0xFF from the previous chunk.
	// seekingEnd: the frame so far, beginning with FF D8.
	buf   []byte
	stats Stats
}

// NewExtractor returns an Extractor in the seeking-start state. A positive
// maxFrameSize bounds the bytes buffered for one frame; 0 disables the cap.
func NewExtractor(maxFrameSize int) *Extractor {
	if maxFrameSize < 0 {
		maxFrameSize = 0
	}
	return &Extractor{maxFrameSize: maxFrameSize}
}

// Feed consumes chunk and returns every frame it completes, in stream
// order. Returned slices are owned by the caller. After ErrFrameTooLarge
// the partial frame is dropped and the Extractor resumes seeking a start
// marker, but callers are expected to treat the error as fatal.
func (e *Extractor) Feed(chunk []byte) ([][]byte, error) {
	var frames [][]byte
	e.stats.BytesIn += uint64(len(chunk))

	for len(chunk) > 0 {
		switch e.state {
		case seekingStart:
			chunk = e.seekStart(chunk)
		case seekingEnd:
			var (
				frame []byte
				err   error
			)
			frame, chunk, err = e.seekEnd(chunk)
			if err != nil {
				return frames, err
			}
			if frame != nil {
				frames = append(frames, frame)
			}
		}
	}
	return frames, nil
}

// seekStart discards bytes up to the next start marker and returns the
// unconsumed remainder of chunk.
func (e *Extractor) seekStart(chunk []byte) []byte {
	if len(e.buf) == 1 {
		if chunk[0] == jpegHeader[1] {
			e.beginFrame()
			return chunk[1:]
		}
		e.buf = e.buf[:0]
		e.stats.BytesDiscarded++
	}

	if i := bytes.Index(chunk, jpegHeader); i >= 0 {
		e.stats.BytesDiscarded += uint64(i)
		e.beginFrame()
		return chunk[i+len(jpegHeader):]
	}

	last := len(chunk) - 1
	if chunk[last] == jpegHeader[0] {
		e.stats.BytesDiscarded += uint64(last)
		e.buf = append(e.buf[:0], chunk[last])
	} else {
		e.stats.BytesDiscarded += uint64(len(chunk))
	}
	return nil
}

func (e *Extractor) beginFrame() {
	e.buf = append(e.buf[:0], jpegHeader...)
	e.state = seekingEnd
}

// seekEnd appends chunk to the frame in progress and looks for the end
// marker in the bytes not searched yet. It returns the completed frame, if
// any, and the bytes of chunk that follow it.
func (e *Extractor) seekEnd(chunk []byte) ([]byte, []byte, error) {
	// Step back one byte so a marker split across chunks is found. The
	// start marker itself can never match since D8 != D9.
	from := len(e.buf) - 1
	if from < len(jpegHeader) {
		from = len(jpegHeader)
	}
	before := len(e.buf)
	e.buf = append(e.buf, chunk...)

	i := bytes.Index(e.buf[from:], jpegFooter)
	if i < 0 {
		if e.maxFrameSize > 0 && len(e.buf) > e.maxFrameSize {
			e.dropFrame()
			return nil, nil, ErrFrameTooLarge
		}
		return nil, nil, nil
	}

	end := from + i + len(jpegFooter)
	if e.maxFrameSize > 0 && end > e.maxFrameSize {
		e.dropFrame()
		return nil, nil, ErrFrameTooLarge
	}

	frame := make([]byte, end)
	copy(frame, e.buf[:end])
	rest := chunk[end-before:]

	e.buf = e.buf[:0]
	e.state = seekingStart
	e.stats.Frames++
	return frame, rest, nil
}

func (e *Extractor) dropFrame() {
	e.stats.BytesDiscarded += uint64(len(e.buf))
	e.stats.PartialFrames++
	e.buf = e.buf[:0]
	e.state = seekingStart
}

// Flush ends the current input. A partial frame is discarded, never
// emitted; Flush returns the number of bytes dropped that way.
func (e *Extractor) Flush() int {
	dropped := 0
	if e.state == seekingEnd {
		dropped = len(e.buf)
		e.dropFrame()
		return dropped
	}
	if len(e.buf) > 0 {
		e.stats.BytesDiscarded += uint64(len(e.buf))
		e.buf = e.buf[:0]
	}
	return dropped
}

// Buffered reports how many bytes are held for the frame in progress.
func (e *Extractor) Buffered() int {
	if e.state == seekingStart {
		return 0
	}
	return len(e.buf)
}

// State names the parser state, for diagnostics.
func (e *Extractor) State() string {
	return e.state.String()
}

// Stats returns a copy of the counters.
func (e *Extractor) Stats() Stats {
	return e.stats
}
