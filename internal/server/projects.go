package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskboard/internal/docstore"
	"taskboard/internal/models"
)

// handleListProjects returns all available projects.
func (s *Server) handleListProjects(c *gin.Context) {
	docs, err := s.store.Query(c.Request.Context(), models.CollectionProjects, docstore.Filter{})
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	projects := make([]models.Project, 0, len(docs))
	for _, doc := range docs {
		p, err := models.ProjectFromDocument(doc)
		if err != nil {
			s.respondError(c, http.StatusInternalServerError, err)
			return
		}
		projects = append(projects, p)
	}
	respondSuccess(c, http.StatusOK, gin.H{"projects": projects})
}

// handleCreateProject creates a new project owned by the caller.
func (s *Server) handleCreateProject(c *gin.Context) {
	var req models.ProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	id, ok := s.projects.Add(c.Request.Context(), req.Fields(ownerID(c)))
	if !ok {
		respondFailure(c, "create project")
		return
	}
	s.respondProject(c, http.StatusCreated, id, "Project created successfully")
}

// handleUpdateProject edits title, description or members of a project.
func (s *Server) handleUpdateProject(c *gin.Context) {
	id := c.Param("id")

	var req models.ProjectPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	doc, ok := s.lookup(c, models.CollectionProjects, id, "project")
	if !ok || !s.authorizeOwner(c, doc) {
		return
	}
	if !s.projects.Update(c.Request.Context(), id, req.Fields()) {
		respondFailure(c, "update project")
		return
	}
	s.respondProject(c, http.StatusOK, id, "Project updated successfully")
}

// handleDeleteProject removes a project. Its tasks are not deleted.
func (s *Server) handleDeleteProject(c *gin.Context) {
	id := c.Param("id")
	doc, ok := s.lookup(c, models.CollectionProjects, id, "project")
	if !ok || !s.authorizeOwner(c, doc) {
		return
	}
	if !s.projects.Delete(c.Request.Context(), id) {
		respondFailure(c, "delete project")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Project deleted successfully", "id": id})
}

// authorizeOwner rejects changes to projects owned by someone else. Without
// authentication every caller is the same anonymous owner.
func (s *Server) authorizeOwner(c *gin.Context, doc docstore.Document) bool {
	if !s.auth.Enabled() {
		return true
	}
	if owner, _ := doc.Fields["ownerId"].(string); owner != ownerID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the project owner may change it"})
		return false
	}
	return true
}

func (s *Server) respondProject(c *gin.Context, status int, id, message string) {
	payload := gin.H{"message": message, "id": id}
	if doc, err := s.store.Get(c.Request.Context(), models.CollectionProjects, id); err == nil {
		if p, err := models.ProjectFromDocument(doc); err == nil {
			payload["project"] = p
		}
	}
	respondSuccess(c, status, payload)
}
