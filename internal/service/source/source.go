// Package source opens the raw MJPEG byte stream the server republishes.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"camstream/internal/config"
	"camstream/internal/logger"
)

// Source produces a raw MJPEG byte stream. Open may be called again after
// the previous stream failed if Restartable reports true.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
	Restartable() bool
}

// FromConfig builds the Source named by cfg.Source:
//
//	auto, cmd       run CAMERA_CMD or the first camera tool found on PATH
//	stdin           read the process's standard input
//	file:<path>     read a file or named pipe once
//	tcp:<addr>      accept producer connections on addr, one at a time
//	udp:<addr>      receive JPEG datagrams from a network camera on addr
func FromConfig(cfg *config.Config, log *logger.Logger) (Source, error) {
	kind, arg, _ := strings.Cut(cfg.Source, ":")

	switch kind {
	case "", "auto", "cmd":
		argv, err := CameraCommand(cfg, lookPath)
		if err != nil {
			return nil, err
		}
		return NewCommand(argv, log), nil
	case "stdin", "-":
		return &readerSource{name: "stdin", open: func() (io.ReadCloser, error) { return os.Stdin, nil }}, nil
	case "file":
		if arg == "" {
			return nil, fmt.Errorf("source %q: missing file path", cfg.Source)
		}
		return File(arg), nil
	case "tcp":
		if arg == "" {
			return nil, fmt.Errorf("source %q: missing listen address", cfg.Source)
		}
		return NewTCP(arg, log), nil
	case "udp":
		if arg == "" {
			return nil, fmt.Errorf("source %q: missing listen address", cfg.Source)
		}
		return NewUDP(arg, log), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// File returns a one-shot Source reading path.
func File(path string) Source {
	return &readerSource{
		name: "file:" + path,
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Reader returns a one-shot Source over r. Closing the stream closes r if
// it implements io.Closer.
func Reader(name string, r io.Reader) Source {
	return &readerSource{
		name: name,
		open: func() (io.ReadCloser, error) {
			if rc, ok := r.(io.ReadCloser); ok {
				return rc, nil
			}
			return io.NopCloser(r), nil
		},
	}
}

type readerSource struct {
	name string
	open func() (io.ReadCloser, error)
}

func (s *readerSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.open()
}

func (s *readerSource) Name() string      { return s.name }
func (s *readerSource) Restartable() bool { return false }
