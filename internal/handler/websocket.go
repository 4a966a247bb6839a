package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"camstream/internal/broadcast"
	"camstream/internal/config"
	"camstream/internal/logger"
	"camstream/internal/model"
	"camstream/internal/stream"
)

const (
	// Viewers only send control messages.
	maxMessageSize = 512
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	closeWait      = time.Second
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler streams the live frames over WebSocket, one binary
// message per frame.
func ViewWebsocketHandler(hub *stream.Hub, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The session is registered before the connection is hijacked so
		// that shutdown can wait for it.
		session := hub.Open(model.TransportWebsocket, r.RemoteAddr, r.UserAgent())
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			hub.Close(session, err)
			return
		}
		defer conn.Close()

		// A hijacked connection's request context is not cancelled when the
		// peer leaves, so the read loop does it.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go readLoop(conn, cancel)
		go pingLoop(ctx, conn)

		err = session.Serve(ctx, stream.FrameWriterFunc(func(frame []byte) (int, error) {
			if cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return 0, err
			}
			return len(frame), nil
		}))
		hub.Close(session, err)

		if errors.Is(err, broadcast.ErrClosed) {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		}
	}
}

// readLoop consumes control frames until the connection fails or closes,
// then cancels the session.
func readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWait)); err != nil {
				return
			}
		}
	}
}
