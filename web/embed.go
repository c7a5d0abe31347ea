// Package web embeds the live transcript viewer (dist/) and serves it with
// cache headers suited to an app shell: hashed assets are cached forever,
// index.html is always revalidated.
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

const (
	immutableCache = "public, max-age=31536000, immutable"
	revalidate     = "no-cache"
)

// Handler returns an http.Handler that serves the embedded viewer. Paths that
// match no file fall back to index.html.
func Handler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := subFS.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
			}
			if strings.HasPrefix(path, "assets/") {
				w.Header().Set("Cache-Control", immutableCache)
			} else {
				w.Header().Set("Cache-Control", revalidate)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Cache-Control", revalidate)
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
