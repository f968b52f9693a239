package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const ownerKey = "taskboard.owner"

// requestLogger writes one structured entry per request whose path starts
// with one of prefixes.
func requestLogger(logger *log.Logger, prefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		logged := len(prefixes) == 0
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				logged = true
				break
			}
		}
		start := time.Now()
		c.Next()
		if !logged {
			return
		}

		entry := logger.WithFields(log.Fields{
			"method":    c.Request.Method,
			"path":      path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// identity resolves the caller from the Authorization header. Browsers cannot
// set headers on EventSource requests, so a token query parameter is accepted
// as well.
func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if token := c.Query("token"); token != "" {
				header = "Bearer " + token
			}
		}
		owner, err := s.auth.UserIDFromHeader(header)
		if err != nil {
			s.logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}
