package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"camstream/internal/broadcast"
	"camstream/internal/config"
	"camstream/internal/handler"
	"camstream/internal/logger"
	"camstream/internal/repository/sqlite"
	"camstream/internal/route"
	"camstream/internal/service/capture"
	"camstream/internal/service/history"
	"camstream/internal/service/source"
	"camstream/internal/stream"
)

// ShutdownTimeout bounds how long in-flight requests get to finish.
const ShutdownTimeout = 5 * time.Second

type App struct {
	config      *config.Config
	logger      *logger.Logger
	ownsLogger  bool
	broadcaster *broadcast.Broadcaster
	pipeline    *capture.Pipeline
	hub         *stream.Hub
	db          *sqlite.DB
	history     *history.BufferService
	server      *http.Server
}

// NewApp builds the server from configuration: logger, camera source and,
// unless HISTORY_DB is empty, the session history database.
func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	src, err := source.FromConfig(cfg, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to configure camera source: %w", err)
	}

	a, err := New(cfg, log, src)
	if err != nil {
		log.Close()
		return nil, err
	}
	a.ownsLogger = true
	return a, nil
}

// New builds the server around an existing logger and source.
func New(cfg *config.Config, log *logger.Logger, src source.Source) (*App, error) {
	a := &App{
		config:      cfg,
		logger:      log,
		broadcaster: broadcast.New(),
	}
	a.pipeline = capture.NewPipeline(src, a.broadcaster, cfg, log.With("component", "capture"))

	var recorder stream.Recorder
	var sessions handler.SessionHistory
	if cfg.HistoryDB != "" {
		db, err := sqlite.New(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open session history: %w", err)
		}
		a.db = db
		a.history = history.NewBufferService(sqlite.NewSessionRepository(db), log.With("component", "history"))
		recorder = a.history
		sessions = a.history
	}

	a.hub = stream.NewHub(a.broadcaster, recorder, log)
	a.server = &http.Server{
		Handler:           route.SetupRoutes(cfg, log, a.broadcaster, a.pipeline, a.hub, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run listens on the configured port and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Address())
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.config.Address(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the capture pipeline and the HTTP server on ln until ctx is
// done, then shuts everything down. A failed camera does not stop the
// server: viewers are disconnected but the page and status stay up.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pipeline.Run(ctx)
	}()

	if a.history != nil {
		interval := a.config.HistoryFlush
		if interval <= 0 {
			interval = 30 * time.Second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.history.Run(ctx, interval)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(ln)
	}()

	a.logger.Info("Camera stream server listening on http://%s", ln.Addr())
	a.logger.Info("Source: %s, frame size %dx%d", a.pipeline.Stats().Source, a.config.Width, a.config.Height)
	if a.db != nil {
		a.logger.Info("Session history: %s", a.config.HistoryDB)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		a.logger.Error("HTTP server failed: %v", err)
	}

	a.logger.Info("Shutting down")

	// Streaming handlers only return once the broadcaster is closed. It is
	// closed before the pipeline stops so sessions end as server_shutdown.
	a.broadcaster.Close(broadcast.ErrShutdown)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stop()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		a.logger.Warning("HTTP shutdown: %v", serr)
	}
	// Shutdown does not track hijacked WebSocket connections.
	if werr := a.hub.Wait(shutdownCtx); werr != nil {
		a.logger.Warning("%d viewer sessions still open at shutdown", a.hub.Count())
	}

	wg.Wait()
	if a.history != nil {
		a.history.Flush()
	}
	return err
}

// Close releases the history database and, if NewApp created it, the log
// file.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Error closing history database: %v", err)
		}
		a.db = nil
	}
	if a.ownsLogger {
		a.logger.Close()
		a.ownsLogger = false
	}
}
