// Package web bundles the tutor client into the server binary.
//
// dist/ ships with a stub page; replace it with a real client build, or point
// a browser at the Vite dev server while working on the client.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler serves the client bundle. Requests for a file in the bundle get
// that file; any other page path gets index.html so the client router can
// resolve it. Unknown /api/ paths stay 404 rather than turning into HTML.
func SPAHandler() http.Handler {
	bundle, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: dist bundle missing: " + err.Error())
	}
	files := http.FileServer(http.FS(bundle))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/")
		if name != "" {
			if info, err := fs.Stat(bundle, name); err != nil || info.IsDir() {
				r.URL.Path = "/"
			}
		}
		files.ServeHTTP(w, r)
	})
}
