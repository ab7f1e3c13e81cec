package devserver

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	httpmiddleware "github.com/wolfeidau/devbundle/internal/http"
)

// IndexFile is served for any GET that no earlier stage answered.
const IndexFile = "index.html"

// staticHandler serves files under root. GET and HEAD requests for anything
// else get root/index.html so client side routes load the app, other methods
// get 404. A missing index fails the request.
func staticHandler(root string) http.Handler {
	files := http.FileServer(http.Dir(root))

	return httpmiddleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return nil
		}

		if servable(root, r.URL.Path) {
			files.ServeHTTP(w, r)
			return nil
		}

		return sendIndex(w, r, root)
	})
}

func sendIndex(w http.ResponseWriter, r *http.Request, root string) error {
	f, err := os.Open(filepath.Join(root, IndexFile))
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", IndexFile, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", IndexFile, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, IndexFile, stat.ModTime(), f)
	return nil
}

// servable reports whether urlPath names a file, or a directory holding an
// index file, under root. Dotfiles are never served.
func servable(root, urlPath string) bool {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		return false
	}
	for _, segment := range strings.Split(clean, "/") {
		if strings.HasPrefix(segment, ".") {
			return false
		}
	}

	name := filepath.Join(root, filepath.FromSlash(clean))
	stat, err := os.Stat(name)
	if err != nil {
		return false
	}
	if !stat.IsDir() {
		return true
	}
	_, err = os.Stat(filepath.Join(name, IndexFile))
	return err == nil
}
