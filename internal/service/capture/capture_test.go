package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"camstream/internal/broadcast"
	"camstream/internal/config"
	"camstream/internal/logger"
	"camstream/internal/mjpeg"
	"camstream/internal/service/source"
)

func jpeg(payload ...byte) []byte {
	frame := append([]byte{0xFF, 0xD8}, payload...)
	return append(frame, 0xFF, 0xD9)
}

func testConfig() *config.Config {
	return &config.Config{ReadChunkSize: 7, RestartDelay: time.Millisecond}
}

// repeatingSource is restartable and yields the same bytes on every Open.
type repeatingSource struct {
	data  []byte
	opens atomic.Int32
}

func (s *repeatingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	s.opens.Add(1)
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *repeatingSource) Name() string      { return "repeating" }
func (s *repeatingSource) Restartable() bool { return true }

// ========================================
// Consume Tests
// ========================================

func TestConsume_PublishesEveryFrame(t *testing.T) {
	b := broadcast.New()
	p := NewPipeline(source.Reader("test", nil), b, testConfig(), logger.Discard())

	frames := [][]byte{jpeg(1), jpeg(2, 2), jpeg(3, 3, 3)}
	stream := append([]byte("noise"), bytes.Join(frames, []byte{0x00})...)

	err := p.Consume(context.Background(), iotest.OneByteReader(bytes.NewReader(stream)))
	if !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("Expected ErrSourceEnded, got %v", err)
	}

	if n := b.Stats().Published; n != 3 {
		t.Errorf("Expected 3 published frames, got %d", n)
	}
	if cur := b.Current(); cur == nil || !bytes.Equal(cur.Data, frames[2]) {
		t.Errorf("Expected last frame to be current, got %v", cur)
	}

	stats := p.Stats()
	if stats.Extractor.Frames != 3 {
		t.Errorf("Expected 3 extracted frames, got %d", stats.Extractor.Frames)
	}
	if stats.Extractor.BytesIn != uint64(len(stream)) {
		t.Errorf("Expected %d bytes in, got %d", len(stream), stats.Extractor.BytesIn)
	}
}

func TestConsume_DropsPartialFrameAtEOF(t *testing.T) {
	b := broadcast.New()
	p := NewPipeline(source.Reader("test", nil), b, testConfig(), logger.Discard())

	stream := append(jpeg(1), 0xFF, 0xD8, 0x02, 0x03)
	if err := p.Consume(context.Background(), bytes.NewReader(stream)); !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("Expected ErrSourceEnded, got %v", err)
	}

	if n := b.Stats().Published; n != 1 {
		t.Errorf("Partial frame must not be published, got %d frames", n)
	}
	if p.Stats().Extractor.PartialFrames != 1 {
		t.Errorf("Expected 1 partial frame, got %d", p.Stats().Extractor.PartialFrames)
	}
}

func TestConsume_FrameTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrameSize = 16
	p := NewPipeline(source.Reader("test", nil), broadcast.New(), cfg, logger.Discard())

	stream := append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x01}, 64)...)
	err := p.Consume(context.Background(), bytes.NewReader(stream))
	if !errors.Is(err, mjpeg.ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestConsume_ReadError(t *testing.T) {
	p := NewPipeline(source.Reader("test", nil), broadcast.New(), testConfig(), logger.Discard())
	boom := errors.New("camera unplugged")

	err := p.Consume(context.Background(), iotest.ErrReader(boom))
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped read error, got %v", err)
	}
}

// ========================================
// Run Tests
// ========================================

func TestRun_OneShotSourceFailureClosesBroadcaster(t *testing.T) {
	b := broadcast.New()
	src := source.Reader("test", bytes.NewReader(jpeg(9)))
	p := NewPipeline(src, b, testConfig(), logger.Discard())

	err := p.Run(context.Background())
	if !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("Expected ErrSourceEnded, got %v", err)
	}
	if !b.Stats().Closed {
		t.Error("Broadcaster should be closed after a fatal producer error")
	}
	if _, err := b.Next(context.Background(), 0); !errors.Is(err, broadcast.ErrClosed) {
		t.Errorf("Expected ErrClosed for late viewers, got %v", err)
	}

	stats := p.Stats()
	if stats.State != StateFailed || stats.LastError == "" {
		t.Errorf("Expected failed state with error, got %+v", stats)
	}
}

func TestRun_RestartsRestartableSource(t *testing.T) {
	b := broadcast.New()
	src := &repeatingSource{data: jpeg(5)}
	p := NewPipeline(src, b, testConfig(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.opens.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected the source to be reopened, opens=%d", src.opens.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if b.Stats().Published < 3 {
		t.Errorf("Expected a frame per run, got %d", b.Stats().Published)
	}
	stats := p.Stats()
	if stats.Restarts < 2 {
		t.Errorf("Expected at least 2 restarts, got %d", stats.Restarts)
	}
	if stats.State != StateStopped {
		t.Errorf("Expected stopped state, got %s", stats.State)
	}
}

func TestRun_CancelInterruptsBlockedRead(t *testing.T) {
	b := broadcast.New()
	pr, pw := io.Pipe()
	defer pw.Close()
	p := NewPipeline(source.Reader("pipe", pr), b, testConfig(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	pw.Write(jpeg(1))
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run stayed blocked in Read after cancel")
	}
	if !b.Stats().Closed {
		t.Error("Broadcaster should be closed on shutdown")
	}
	if _, err := b.Next(context.Background(), 0); !errors.Is(err, broadcast.ErrShutdown) {
		t.Errorf("Expected ErrShutdown as close cause, got %v", err)
	}
}
