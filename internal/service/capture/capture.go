// Package capture runs the single producer task: it reads the camera byte
// stream, splits it into JPEG frames and publishes each one.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"camstream/internal/broadcast"
	"camstream/internal/config"
	"camstream/internal/logger"
	"camstream/internal/mjpeg"
	"camstream/internal/service/source"
)

// ErrSourceEnded reports that the producer closed its stream.
var ErrSourceEnded = errors.New("capture: source ended")

// Pipeline states reported in Stats.
const (
	StateStarting   = "starting"
	StateRunning    = "running"
	StateRestarting = "restarting"
	StateStopped    = "stopped"
	StateFailed     = "failed"
)

// Stats is a snapshot of the pipeline.
type Stats struct {
	Source    string      `json:"source"`
	State     string      `json:"state"`
	Parser    string      `json:"parser_state"`
	Buffered  int         `json:"buffered_bytes"`
	Restarts  int         `json:"restarts"`
	LastError string      `json:"last_error,omitempty"`
	Extractor mjpeg.Stats `json:"extractor"`
}

// Pipeline connects a Source to a Broadcaster.
type Pipeline struct {
	source       source.Source
	broadcaster  *broadcast.Broadcaster
	logger       *logger.Logger
	chunkSize    int
	restartDelay time.Duration

	extractor *mjpeg.Extractor

	mu    sync.Mutex
	stats Stats
}

// NewPipeline creates a Pipeline using the chunk size, frame cap and restart
// delay from cfg.
func NewPipeline(src source.Source, b *broadcast.Broadcaster, cfg *config.Config, logger *logger.Logger) *Pipeline {
	chunkSize := cfg.ReadChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &Pipeline{
		source:       src,
		broadcaster:  b,
		logger:       logger,
		chunkSize:    chunkSize,
		restartDelay: cfg.RestartDelay,
		extractor:    mjpeg.NewExtractor(cfg.MaxFrameSize),
		stats:        Stats{Source: src.Name(), State: StateStarting, Parser: "seeking_start"},
	}
}

// Run drives the source until ctx is done. A restartable source is reopened
// after restartDelay whenever its stream fails; viewers idle meanwhile. Any
// other failure is fatal: the broadcaster is closed and the error returned.
// On cancellation the broadcaster is closed with broadcast.ErrShutdown and
// Run returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if c, ok := p.source.(io.Closer); ok {
		defer c.Close()
	}

	for {
		err := p.runOnce(ctx)
		if ctx.Err() != nil {
			p.setState(StateStopped, nil)
			p.broadcaster.Close(broadcast.ErrShutdown)
			p.logger.Info("Capture stopped")
			return nil
		}

		if !p.source.Restartable() {
			p.setState(StateFailed, err)
			p.logger.Error("Capture from %s failed: %v", p.source.Name(), err)
			p.broadcaster.Close(err)
			return err
		}

		p.setState(StateRestarting, err)
		p.logger.Warning("Capture from %s failed: %v; restarting in %v", p.source.Name(), err, p.restartDelay)

		timer := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
			p.mu.Lock()
			p.stats.Restarts++
			p.mu.Unlock()
		}
	}
}

func (p *Pipeline) runOnce(ctx context.Context) error {
	rc, err := p.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	// Closing the stream is the only way to interrupt a blocked Read.
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		if stop() {
			rc.Close()
		}
	}()

	p.setState(StateRunning, nil)
	return p.Consume(ctx, rc)
}

// Consume reads r until it fails, publishing every complete frame. A
// partial frame left at the end of r is dropped. It returns ErrSourceEnded
// on EOF, mjpeg.ErrFrameTooLarge if the cap is hit, or the read error.
func (p *Pipeline) Consume(ctx context.Context, r io.Reader) error {
	buf := make([]byte, p.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			frames, ferr := p.extractor.Feed(buf[:n])
			for _, frame := range frames {
				p.broadcaster.Publish(frame)
			}
			p.syncStats()
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if dropped := p.extractor.Flush(); dropped > 0 {
				p.logger.Debug("Dropped %d bytes of an unfinished frame", dropped)
			}
			p.syncStats()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrSourceEnded
			}
			return fmt.Errorf("read source: %w", err)
		}
	}
}

func (p *Pipeline) syncStats() {
	p.mu.Lock()
	p.stats.Extractor = p.extractor.Stats()
	p.stats.Buffered = p.extractor.Buffered()
	p.stats.Parser = p.extractor.State()
	p.mu.Unlock()
}

func (p *Pipeline) setState(state string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.State = state
	if err != nil {
		p.stats.LastError = err.Error()
	}
}

// Stats returns a snapshot of the pipeline.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
