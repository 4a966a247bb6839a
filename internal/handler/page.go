package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"camstream/internal/config"
	"camstream/internal/logger"
)

//go:embed templates/index.html
var templates embed.FS

var indexTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

// PageTitle is shown on the landing page.
const PageTitle = "Camera Live Stream"

// RedirectHandler permanently redirects to target.
func RedirectHandler(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}
}

// IndexHandler serves the landing page, which embeds the MJPEG stream at
// the configured frame size.
func IndexHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	var page bytes.Buffer
	err := indexTemplate.Execute(&page, struct {
		Title         string
		Width, Height int
	}{PageTitle, cfg.Width, cfg.Height})

	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			logger.Error("Error rendering index page: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(page.Len()))
		w.Write(page.Bytes())
	}
}
