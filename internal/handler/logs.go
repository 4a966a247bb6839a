package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"camstream/internal/config"
	"camstream/internal/logger"
)

// LogsHandler serves the server log file as text/plain.
func LogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.LogDirectory == "" {
			http.Error(w, "File logging is disabled", http.StatusNotFound)
			return
		}

		filePath := filepath.Join(cfg.LogDirectory, logger.LogFileName)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.Error(w, "Log file not found: "+logger.LogFileName, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filePath)
	}
}
