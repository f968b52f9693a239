package server

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"taskboard/internal/board"
	"taskboard/internal/livesync"
)

// handleProjectStream pushes the project list after every change.
func (s *Server) handleProjectStream(c *gin.Context) {
	projects := livesync.OpenProjects(c.Request.Context(), s.store, s.logger)
	defer projects.Close()

	s.stream(c, projects.Collection, "load projects", func() any {
		return gin.H{"projects": projects.Projects()}
	})
}

// handleBoardStream pushes the derived columns of a project after every
// change to its tasks.
func (s *Server) handleBoardStream(c *gin.Context) {
	q, ok := s.parseBoardQuery(c)
	if !ok {
		return
	}
	projectID := c.Param("id")
	tasks := livesync.OpenProjectTasks(c.Request.Context(), s.store, projectID, s.logger)
	defer tasks.Close()

	s.stream(c, tasks.Collection, "load tasks", func() any {
		return gin.H{
			"projectId": projectID,
			"columns":   board.Columns(tasks.Tasks(), q.priorities, q.sort),
		}
	})
}

// stream writes one server-sent event per applied snapshot until the client
// goes away or the subscription fails. The mirror is read-only here, so any
// recorded error is a subscription failure.
func (s *Server) stream(c *gin.Context, coll *livesync.Collection, action string, payload func() any) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "stream unsupported")
		return
	}
	c.Status(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-coll.Stopped():
			if coll.Err() != nil {
				s.writeStreamError(c, flusher, action)
			}
			return
		case <-coll.Changed():
		}

		if coll.Err() != nil {
			s.writeStreamError(c, flusher, action)
			return
		}
		data, err := sonic.Marshal(payload())
		if err != nil {
			s.logger.WithError(err).Error("encode stream payload")
			return
		}
		if !s.writeEvent(c, flusher, "", data) {
			return
		}
	}
}

func (s *Server) writeStreamError(c *gin.Context, flusher http.Flusher, action string) {
	data, _ := sonic.Marshal(gin.H{"error": "Failed to " + action})
	s.writeEvent(c, flusher, "error", data)
}

func (s *Server) writeEvent(c *gin.Context, flusher http.Flusher, event string, data []byte) bool {
	var frame []byte
	if event != "" {
		frame = append(frame, "event: "+event+"\n"...)
	}
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := c.Writer.Write(frame); err != nil {
		s.logger.WithError(err).WithField("path", c.FullPath()).Debug("stream write failed")
		return false
	}
	flusher.Flush()
	return true
}
