package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// rootFiles are served from the top of the static directory when present.
var rootFiles = []string{"favicon.ico", "robots.txt", "manifest.webmanifest"}

// mountStatic serves the compiled frontend from the configured directory.
// Unknown GET paths outside /api fall back to index.html so client side
// routes resolve.
func (s *Server) mountStatic() {
	if s.staticDir == "" {
		s.logger.Info("static directory not configured; API only mode")
		s.engine.NoRoute(endpointNotFound)
		return
	}
	entry := s.logger.WithField("path", s.staticDir)
	if info, err := os.Stat(s.staticDir); err != nil || !info.IsDir() {
		entry.WithError(err).Warn("static directory missing; API only mode")
		s.engine.NoRoute(endpointNotFound)
		return
	}

	index := filepath.Join(s.staticDir, "index.html")
	hasIndex := isFile(index)
	if !hasIndex {
		entry.Warn("index.html not found")
	}

	assets := filepath.Join(s.staticDir, "assets")
	if info, err := os.Stat(assets); err == nil && info.IsDir() {
		s.engine.Group("/assets", immutableCache).Static("/", assets)
	}
	for _, name := range rootFiles {
		if p := filepath.Join(s.staticDir, name); isFile(p) {
			s.engine.StaticFile("/"+name, p)
		}
	}

	s.engine.NoRoute(func(c *gin.Context) {
		if !hasIndex || c.Request.Method != http.MethodGet || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			endpointNotFound(c)
			return
		}
		c.File(index)
	})
}

func endpointNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
}

// immutableCache marks fingerprinted build assets as cacheable forever.
func immutableCache(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Next()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
