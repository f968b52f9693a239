package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskboard/internal/board"
	"taskboard/internal/docstore"
	"taskboard/internal/models"
)

type moveRequest struct {
	Status models.Status `json:"status" binding:"required"`
}

// handleListTasks fetches tasks for a project.
func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.projectTasks(c, c.Param("id"))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}

// handleCreateTask inserts a new task into a project.
func (s *Server) handleCreateTask(c *gin.Context) {
	projectID := c.Param("id")

	var req models.TaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.lookup(c, models.CollectionProjects, projectID, "project"); !ok {
		return
	}

	id, ok := s.tasks.Add(c.Request.Context(), req.Fields(projectID))
	if !ok {
		respondFailure(c, "create task")
		return
	}
	s.respondTask(c, http.StatusCreated, id, "Task created successfully")
}

// handleUpdateTask updates task fields such as title, priority or due date.
func (s *Server) handleUpdateTask(c *gin.Context) {
	id := c.Param("id")

	var req models.TaskPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.lookup(c, models.CollectionTasks, id, "task"); !ok {
		return
	}

	if !s.tasks.Update(c.Request.Context(), id, req.Fields()) {
		respondFailure(c, "update task")
		return
	}
	s.respondTask(c, http.StatusOK, id, "Task updated successfully")
}

// handleMoveTask drops a task onto another status column.
func (s *Server) handleMoveTask(c *gin.Context) {
	id := c.Param("id")

	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.lookup(c, models.CollectionTasks, id, "task"); !ok {
		return
	}

	err := board.Move(c.Request.Context(), s.tasks, id, req.Status)
	switch {
	case errors.Is(err, board.ErrUnknownColumn):
		s.respondError(c, http.StatusBadRequest, err)
	case err != nil:
		respondFailure(c, "move task")
	default:
		s.respondTask(c, http.StatusOK, id, "Task moved successfully")
	}
}

// handleDeleteTask removes a task completely.
func (s *Server) handleDeleteTask(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.lookup(c, models.CollectionTasks, id, "task"); !ok {
		return
	}
	if !s.tasks.Delete(c.Request.Context(), id) {
		respondFailure(c, "delete task")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Task deleted successfully", "id": id})
}

func (s *Server) projectTasks(c *gin.Context, projectID string) ([]models.Task, error) {
	docs, err := s.store.Query(c.Request.Context(), models.CollectionTasks, docstore.Where("projectId", projectID))
	if err != nil {
		return nil, err
	}
	tasks := make([]models.Task, 0, len(docs))
	for _, doc := range docs {
		t, err := models.TaskFromDocument(doc)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *Server) respondTask(c *gin.Context, status int, id, message string) {
	payload := gin.H{"message": message, "id": id}
	if doc, err := s.store.Get(c.Request.Context(), models.CollectionTasks, id); err == nil {
		if t, err := models.TaskFromDocument(doc); err == nil {
			payload["task"] = t
		}
	}
	respondSuccess(c, status, payload)
}
