package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"camstream/internal/broadcast"
	"camstream/internal/logger"
	"camstream/internal/model"
)

// ========================================
// Helpers
// ========================================

type memoryRecorder struct {
	mu      sync.Mutex
	records []model.Session
}

func (r *memoryRecorder) Record(s model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, s)
}

func (r *memoryRecorder) all() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Session(nil), r.records...)
}

// collector is a FrameWriter that keeps every frame and can be told to fail.
type collector struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) WriteFrame(frame []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return 0, c.fail
	}
	c.frames = append(c.frames, frame)
	select {
	case c.got <- struct{}{}:
	default:
	}
	return len(frame), nil
}

func (c *collector) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func waitForFrames(t *testing.T, c *collector, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for c.count() < n {
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d frames, have %d", n, c.count())
		}
	}
}

func waitForWaiting(t *testing.T, b *broadcast.Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Stats().Waiting < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d blocked sessions", n)
		}
		time.Sleep(time.Millisecond)
	}
}

// ========================================
// Multipart Tests
// ========================================

func TestWritePart_Format(t *testing.T) {
	var buf bytes.Buffer
	frame := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}

	n, err := WritePart(&buf, frame)
	if err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}

	want := "--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: 5\r\n\r\n" + string(frame) + "\r\n"
	if buf.String() != want {
		t.Errorf("Unexpected part:\n got %q\nwant %q", buf.String(), want)
	}
	if n != len(want) {
		t.Errorf("Expected %d bytes written, got %d", len(want), n)
	}
}

func TestMultipartWriter_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	mw := NewMultipartWriter(rec, time.Second)

	if err := mw.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if _, err := mw.WriteFrame([]byte("jpeg")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	expected := map[string]string{
		"Content-Type":  "multipart/x-mixed-replace; boundary=FRAME",
		"Cache-Control": "no-cache, private",
		"Pragma":        "no-cache",
		"Age":           "0",
	}
	for k, v := range expected {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("Header %s = %q, expected %q", k, got, v)
		}
	}
	if !rec.Flushed {
		t.Error("Expected the response to be flushed")
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("--FRAME\r\n")) {
		t.Errorf("Body should start with the boundary, got %q", rec.Body.String())
	}
}

// ========================================
// Session Tests
// ========================================

func TestSession_ServeDeliversFramesInOrder(t *testing.T) {
	b := broadcast.New()
	hub := NewHub(b, nil, logger.Discard())
	s := hub.Open(model.TransportMJPEG, "10.0.0.1:1234", "test")

	ctx, cancel := context.WithCancel(context.Background())
	c := newCollector()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, c) }()

	for i := 1; i <= 3; i++ {
		waitForWaiting(t, b, 1)
		b.Publish([]byte{byte(i)})
		waitForFrames(t, c, i)
	}
	cancel()

	err := <-done
	if EndReason(err) != model.EndClientClosed {
		t.Errorf("Expected client_closed, got %s (%v)", EndReason(err), err)
	}
	hub.Close(s, err)

	for i, f := range c.frames {
		if len(f) != 1 || f[0] != byte(i+1) {
			t.Errorf("Frame %d out of order: % X", i, f)
		}
	}
}

func TestSession_WriteFailureEndsOnlyThatSession(t *testing.T) {
	b := broadcast.New()
	rec := &memoryRecorder{}
	hub := NewHub(b, rec, logger.Discard())

	broken := newCollector()
	healthy := newCollector()
	brokenSession := hub.Open(model.TransportMJPEG, "10.0.0.1:1", "a")
	healthySession := hub.Open(model.TransportMJPEG, "10.0.0.2:2", "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokenDone := make(chan error, 1)
	go func() {
		err := brokenSession.Serve(ctx, broken)
		hub.Close(brokenSession, err)
		brokenDone <- err
	}()
	healthyDone := make(chan error, 1)
	go func() {
		err := healthySession.Serve(ctx, healthy)
		hub.Close(healthySession, err)
		healthyDone <- err
	}()

	waitForWaiting(t, b, 2)
	b.Publish([]byte("one"))
	waitForFrames(t, broken, 1)
	waitForFrames(t, healthy, 1)

	broken.setFail(errors.New("broken pipe"))
	waitForWaiting(t, b, 2)
	b.Publish([]byte("two"))

	select {
	case err := <-brokenDone:
		if EndReason(err) != model.EndWriteError {
			t.Errorf("Expected write_error, got %s (%v)", EndReason(err), err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Broken session did not terminate")
	}

	waitForFrames(t, healthy, 2)
	waitForWaiting(t, b, 1)
	b.Publish([]byte("three"))
	waitForFrames(t, healthy, 3)

	if hub.Count() != 1 {
		t.Errorf("Expected 1 active session, got %d", hub.Count())
	}

	b.Close(nil)
	select {
	case err := <-healthyDone:
		if EndReason(err) != model.EndSourceClosed {
			t.Errorf("Expected source_closed, got %s", EndReason(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Healthy session did not end on close")
	}

	records := rec.all()
	if len(records) != 2 {
		t.Fatalf("Expected 2 recorded sessions, got %d", len(records))
	}
	if records[0].EndReason != model.EndWriteError || records[0].FramesSent != 1 {
		t.Errorf("Unexpected record for broken session: %+v", records[0])
	}
	if records[1].FramesSent != 3 || records[1].BytesSent != int64(len("one")+len("two")+len("three")) {
		t.Errorf("Unexpected record for healthy session: %+v", records[1])
	}
}

// ========================================
// Hub Tests
// ========================================

func TestHub_TracksSessions(t *testing.T) {
	b := broadcast.New()
	hub := NewHub(b, nil, logger.Discard())

	first := hub.Open(model.TransportMJPEG, "10.0.0.1:1", "a")
	time.Sleep(time.Millisecond)
	second := hub.Open(model.TransportWebsocket, "10.0.0.2:2", "b")

	if hub.Count() != 2 || b.Stats().Subscribers != 2 {
		t.Fatalf("Expected 2 sessions and subscribers, got %d/%d", hub.Count(), b.Stats().Subscribers)
	}

	sessions := hub.Sessions()
	if sessions[0].ID != first.ID() || sessions[1].ID != second.ID() {
		t.Errorf("Expected sessions ordered by start time")
	}
	if sessions[1].Transport != model.TransportWebsocket {
		t.Errorf("Expected websocket transport, got %s", sessions[1].Transport)
	}

	hub.Close(first, context.Canceled)
	hub.Close(second, context.Canceled)

	if hub.Count() != 0 || b.Stats().Subscribers != 0 {
		t.Errorf("Expected no sessions after close, got %d/%d", hub.Count(), b.Stats().Subscribers)
	}
}

func TestHub_WaitReturnsOnceSessionsAreRecorded(t *testing.T) {
	b := broadcast.New()
	rec := &memoryRecorder{}
	hub := NewHub(b, rec, logger.Discard())

	if err := hub.Wait(context.Background()); err != nil {
		t.Fatalf("Expected Wait on an empty hub to return nil, got %v", err)
	}

	s := hub.Open(model.TransportWebsocket, "10.0.0.1:1", "a")
	done := make(chan error, 1)
	go func() {
		err := s.Serve(context.Background(), newCollector())
		hub.Close(s, err)
		done <- err
	}()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := hub.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected Wait to time out with an open session, got %v", err)
	}

	b.Close(broadcast.ErrShutdown)
	if err := hub.Wait(context.Background()); err != nil {
		t.Fatalf("Expected nil from Wait, got %v", err)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("Expected the session to be recorded before Wait returned, got %d", len(records))
	}
	if records[0].EndReason != model.EndServerShutdown {
		t.Errorf("Expected server_shutdown, got %s", records[0].EndReason)
	}
	<-done
}

func TestEndReason(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{context.Canceled, model.EndClientClosed},
		{broadcast.ErrClosed, model.EndSourceClosed},
		{fmt.Errorf("%w: %w", broadcast.ErrClosed, broadcast.ErrShutdown), model.EndServerShutdown},
		{os.ErrDeadlineExceeded, model.EndWriteError},
		{errors.New("write: broken pipe"), model.EndWriteError},
	}

	for _, tt := range tests {
		if got := EndReason(tt.err); got != tt.expected {
			t.Errorf("EndReason(%v) = %s, expected %s", tt.err, got, tt.expected)
		}
	}
}
