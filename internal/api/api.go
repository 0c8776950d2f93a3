// Package api exposes the catalog, classifier and diff engine over HTTP. It
// contains no core logic: handlers translate between HTTP and the internal
// packages and map the error taxonomy onto status codes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roburio/builder-web/internal/config"
	"github.com/roburio/builder-web/internal/db"
	"github.com/roburio/builder-web/internal/store"
)

// Server holds the API server components
type Server struct {
	db     *db.DB
	store  *store.Store
	config *config.Config
	router *gin.Engine
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(database *db.DB, blobStore *store.Store, cfg *config.Config) *Server {
	s := &Server{
		db:     database,
		store:  blobStore,
		config: cfg,
	}

	// Setup router
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.Default()
	s.setupRoutes()

	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/upload", s.handleUpload)

		v1.GET("/jobs", s.handleListJobs)
		v1.GET("/job/:name", s.handleGetJob)
		v1.GET("/job/:name/builds", s.handleListBuilds)
		v1.PATCH("/job/:name", s.handleUpdateJobMetadata)
		v1.DELETE("/job/:name", s.handleRemoveJob)

		v1.GET("/build/:uuid", s.handleGetBuild)
		v1.GET("/build/:uuid/artifacts", s.handleListArtifacts)
		v1.GET("/build/:uuid/artifact/*path", s.handleGetArtifact)
		v1.GET("/build/:uuid/reproducibility", s.handleReproducibility)
		v1.DELETE("/build/:uuid", s.handleRemoveBuild)

		v1.GET("/artifact/:hash", s.handleGetArtifactByHash)
		v1.GET("/compare/:left/:right", s.handleCompare)
		v1.GET("/failed-builds", s.handleFailedBuilds)

		v1.POST("/cleanup", s.handleCleanup)
	}

	// Health check
	s.router.GET("/health", s.handleHealth)
}

// Router exposes the configured engine, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.ServerHost, s.config.ServerPort)
	s.http = &http.Server{Addr: addr, Handler: s.router}

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}
