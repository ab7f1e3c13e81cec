package assets

import (
	"bytes"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// Handler serves built outputs under the public path and passes every other
// request to next. Requests for outputs wait for the first build to finish.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	serve := gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, p.config.PublicPath)
		data, ok := p.File(name)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if ctype := mime.TypeByExtension(path.Ext(name)); ctype != "" {
			w.Header().Set("Content-Type", ctype)
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method != http.MethodGet && r.Method != http.MethodHead) || !p.owns(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if err := p.Wait(r.Context()); err != nil {
			return
		}

		serve.ServeHTTP(w, r)
	})
}

// owns reports whether urlPath falls under the public path. Absolute public
// paths on another host never match.
func (p *Pipeline) owns(urlPath string) bool {
	prefix := p.config.PublicPath
	if !strings.HasPrefix(prefix, "/") {
		return false
	}
	return strings.HasPrefix(urlPath, prefix) && len(urlPath) > len(prefix)
}
