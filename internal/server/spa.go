package server

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
)

const (
	immutableCacheControl = "public, max-age=31536000, immutable"
	indexCacheControl     = "no-cache"
	indexContentType      = "text/html; charset=utf-8"
)

// shell answers / and /callback: a redirect to the dev server in
// development, the index document otherwise.
func (s *Server) shell(c *gin.Context) error {
	if s.opts.Development {
		c.Redirect(http.StatusFound, s.opts.DevServerURL)
		c.Abort()
		return nil
	}
	return s.serveIndex(c)
}

// static serves an existing regular file from the assets directory and
// passes everything else on.
func (s *Server) static(c *gin.Context) error {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return nil
	}

	rel, ok := assetPath(c.Request.URL.Path)
	if !ok {
		return nil
	}

	f, err := os.OpenInRoot(s.opts.StaticDir, filepath.FromSlash(rel))
	if err != nil {
		// missing files and paths leaving the directory fall through
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}

	if s.immutable(rel) {
		c.Header("Cache-Control", immutableCacheControl)
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	c.Abort()
	return nil
}

// fallback handles whatever neither the router nor the static layer
// claimed.
func (s *Server) fallback(c *gin.Context) error {
	if s.opts.Development {
		c.String(http.StatusNotFound,
			"Not found. In development the frontend is served by %s", s.opts.DevServerURL)
		return nil
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil
	}
	return s.serveIndex(c)
}

func (s *Server) serveIndex(c *gin.Context) error {
	data, err := os.ReadFile(s.opts.IndexFile)
	if err != nil {
		return err
	}
	c.Header("Cache-Control", indexCacheControl)
	c.Data(http.StatusOK, indexContentType, data)
	c.Abort()
	return nil
}

func (s *Server) immutable(rel string) bool {
	for _, pattern := range s.opts.ImmutableGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// assetPath maps a URL path to a slash-separated path relative to the
// assets directory. Dotfiles are never served.
func assetPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if rel == "" {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	if !fs.ValidPath(rel) {
		return "", false
	}
	return rel, true
}
