// Package web embeds the browser chat client (dist/) and serves it as a
// single-page application.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler returns an http.Handler that serves the embedded client.
// Paths that don't match a file fall back to index.html.
func SPAHandler() http.Handler {
	return spaHandler(distFS, "dist")
}

func spaHandler(root fs.FS, dir string) http.Handler {
	subFS, err := fs.Sub(root, dir)
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API and websocket paths never fall through to the client.
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")
		if path != "" {
			if _, err := fs.Stat(subFS, path); err == nil {
				fileServer.ServeHTTP(w, r)
				return
			}
			slog.Debug("web: serving index for client route", "path", r.URL.Path)
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
