package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"taskboard/internal/auth"
	"taskboard/internal/docstore"
	"taskboard/internal/livesync"
	"taskboard/internal/models"
)

// Server provides HTTP handlers for the project board backend.
type Server struct {
	engine    *gin.Engine
	store     *docstore.Store
	auth      *auth.Authenticator
	logger    *log.Logger
	staticDir string

	projects *livesync.Writer
	tasks    *livesync.Writer
}

// New constructs the HTTP server with routes and middleware configured.
// A nil authenticator disables authentication.
func New(store *docstore.Store, authn *auth.Authenticator, logger *log.Logger, staticDir string) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if authn == nil {
		authn = auth.New(auth.Options{})
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger, "/api"))

	srv := &Server{
		engine:    router,
		store:     store,
		auth:      authn,
		logger:    logger,
		staticDir: staticDir,
		projects:  livesync.NewWriter(store, models.CollectionProjects, logger),
		tasks:     livesync.NewWriter(store, models.CollectionTasks, logger),
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)

		secured := api.Group("", s.identity())

		projects := secured.Group("/projects")
		{
			projects.GET("", s.handleListProjects)
			projects.POST("", s.handleCreateProject)
			projects.PUT(":id", s.handleUpdateProject)
			projects.DELETE(":id", s.handleDeleteProject)
			projects.GET(":id/tasks", s.handleListTasks)
			projects.POST(":id/tasks", s.handleCreateTask)
			projects.GET(":id/board", s.handleBoard)
			projects.GET(":id/board/stream", s.handleBoardStream)
		}

		secured.GET("/stream/projects", s.handleProjectStream)

		secured.PUT("/tasks/:id", s.handleUpdateTask)
		secured.DELETE("/tasks/:id", s.handleDeleteTask)
		secured.POST("/tasks/:id/move", s.handleMoveTask)
	}

	s.mountStatic()
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// lookup loads a document named by a path parameter, answering 404 when it
// does not exist.
func (s *Server) lookup(c *gin.Context, collection, id, what string) (docstore.Document, bool) {
	doc, err := s.store.Get(c.Request.Context(), collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return docstore.Document{}, false
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return docstore.Document{}, false
	}
	return doc, true
}

// respondError logs the error and returns a JSON payload.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if err != nil {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondFailure reports a failed mutation as a "Failed to ..." notification.
// The cause has already been logged by the writer.
func respondFailure(c *gin.Context, action string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
}

// respondSuccess wraps a payload in a JSON envelope for consistency.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
