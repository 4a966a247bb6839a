package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"camstream/internal/app"
	"camstream/internal/config"
)

func main() {
	cfg := config.Load()

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
