package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"camstream/internal/logger"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// UDP receives a camera that sends its JPEG frames as UDP datagrams, one
// frame usually split over several packets. Payloads are passed on in
// arrival order and the extractor finds the frame boundaries. Only the
// first sender is followed; packets from other hosts are ignored.
type UDP struct {
	addr   string
	logger *logger.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDP returns a Source that listens on addr when opened.
func NewUDP(addr string, log *logger.Logger) *UDP {
	return &UDP{addr: addr, logger: log}
}

// Name returns the listen address.
func (u *UDP) Name() string { return "udp:" + u.addr }

// Restartable reports true.
func (u *UDP) Restartable() bool { return true }

// Addr returns the bound address of the current stream, or nil.
func (u *UDP) Addr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Open binds the UDP port. Reading blocks until datagrams arrive.
func (u *UDP) Open(ctx context.Context) (io.ReadCloser, error) {
	addr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", u.addr, err)
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()

	u.logger.Info("UDP camera source started on %s", conn.LocalAddr())
	return &udpStream{conn: conn, logger: u.logger, buf: make([]byte, maxDatagram)}, nil
}

type udpStream struct {
	conn    *net.UDPConn
	logger  *logger.Logger
	buf     []byte
	pending []byte
	peer    *net.UDPAddr
	ignored int
}

func (s *udpStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		n, from, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			return 0, err
		}
		if s.peer == nil {
			s.peer = from
			s.logger.Info("Receiving camera packets from %s", from)
		} else if !from.IP.Equal(s.peer.IP) || from.Port != s.peer.Port {
			if s.ignored == 0 {
				s.logger.Warning("Ignoring packets from second sender %s", from)
			}
			s.ignored++
			continue
		}
		s.pending = s.buf[:n]
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *udpStream) Close() error {
	return s.conn.Close()
}
