package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskboard/internal/board"
)

type boardQuery struct {
	priorities board.PrioritySet
	sort       board.SortMode
}

// parseBoardQuery reads ?priority=low,high&sort=dueDate-asc.
func (s *Server) parseBoardQuery(c *gin.Context) (boardQuery, bool) {
	priorities, err := board.ParsePriorities(c.Query("priority"))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return boardQuery{}, false
	}
	mode, err := board.ParseSortMode(c.Query("sort"))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return boardQuery{}, false
	}
	return boardQuery{priorities: priorities, sort: mode}, true
}

// handleBoard returns the status columns of a project.
func (s *Server) handleBoard(c *gin.Context) {
	q, ok := s.parseBoardQuery(c)
	if !ok {
		return
	}
	projectID := c.Param("id")
	tasks, err := s.projectTasks(c, projectID)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"projectId": projectID,
		"columns":   board.Columns(tasks, q.priorities, q.sort),
	})
}
