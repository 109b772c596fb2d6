package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// StaticHandler serves the bundled browser UI: the built dist/index.html when
// a build exists, the plain index.html otherwise, and files under
// dist/assets for everything below /assets/.
type StaticHandler struct {
	webDir string
	logger *slog.Logger
}

func NewStaticHandler(webDir string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{
		webDir: webDir,
		logger: logger,
	}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.webDir == "" {
		http.NotFound(w, r)

		return
	}

	if asset, ok := strings.CutPrefix(r.URL.Path, "/assets/"); ok {
		h.serveAsset(w, r, asset)

		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)

		return
	}

	for _, candidate := range []string{
		filepath.Join(h.webDir, "dist", "index.html"),
		filepath.Join(h.webDir, "index.html"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			http.ServeFile(w, r, candidate)

			return
		}
	}

	http.NotFound(w, r)
}

func (h *StaticHandler) serveAsset(w http.ResponseWriter, r *http.Request, asset string) {
	assetsDir := filepath.Join(h.webDir, "dist", "assets")
	path := filepath.Join(assetsDir, filepath.Clean("/"+asset))

	// Clean above pins the path inside assetsDir; anything that escaped is a
	// traversal attempt.
	if !strings.HasPrefix(path, assetsDir+string(os.PathSeparator)) {
		http.NotFound(w, r)

		return
	}

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		http.NotFound(w, r)

		return
	}

	http.ServeFile(w, r, path)
}
