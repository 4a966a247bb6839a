package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"camstream/internal/logger"
)

// TCP accepts a camera process pushing MJPEG over a TCP connection, for
// example `rpicam-vid --codec mjpeg -o tcp://host:port`. One producer is
// served at a time; when it disconnects the next Open accepts another.
type TCP struct {
	addr   string
	logger *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewTCP returns a Source listening on addr once first opened.
func NewTCP(addr string, log *logger.Logger) *TCP {
	return &TCP{addr: addr, logger: log}
}

// Name returns the listen address.
func (t *TCP) Name() string { return "tcp:" + t.addr }

// Restartable reports true: producers may reconnect.
func (t *TCP) Restartable() bool { return true }

// Addr returns the bound address, or nil before the first Open.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Listen binds the listener without waiting for a producer.
func (t *TCP) Listen(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}
	t.listener = ln
	t.logger.Info("Waiting for MJPEG producer on %s", ln.Addr())

	context.AfterFunc(ctx, func() { ln.Close() })
	return nil
}

// Open blocks until a producer connects or ctx is done.
func (t *TCP) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := t.Listen(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept producer: %w", err)
	}
	t.logger.Info("Accepted MJPEG producer %s", conn.RemoteAddr())
	return conn, nil
}

// Close stops listening.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}
