package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roburio/builder-web/internal/db"
	"github.com/roburio/builder-web/internal/diff"
	"github.com/roburio/builder-web/internal/models"
	"github.com/roburio/builder-web/internal/repro"
	"github.com/roburio/builder-web/internal/store"
)

// handleListJobs handles GET /api/v1/jobs, optionally filtered by ?section=
func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.db.ListJobs(c.Query("section"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, jobs)
}

// handleGetJob handles GET /api/v1/job/:name
func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.db.GetJob(c.Param("name"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// handleListBuilds handles GET /api/v1/job/:name/builds
func (s *Server) handleListBuilds(c *gin.Context) {
	name := c.Param("name")

	if _, err := s.db.GetJob(name); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	builds, err := s.db.ListBuilds(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list builds"})
		return
	}

	c.JSON(http.StatusOK, builds)
}

// jobMetadata is the PATCH body for job metadata updates.
type jobMetadata struct {
	Section  string `json:"section"`
	Synopsis string `json:"synopsis"`
	Readme   string `json:"readme"`
}

// handleUpdateJobMetadata handles PATCH /api/v1/job/:name
func (s *Server) handleUpdateJobMetadata(c *gin.Context) {
	var meta jobMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.db.UpdateJobMetadata(c.Param("name"), meta.Section, meta.Synopsis, meta.Readme)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}

	c.Status(http.StatusNoContent)
}

// handleGetBuild handles GET /api/v1/build/:uuid
func (s *Server) handleGetBuild(c *gin.Context) {
	build, err := s.db.GetBuild(c.Param("uuid"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get build"})
		return
	}

	c.JSON(http.StatusOK, build)
}

// handleListArtifacts handles GET /api/v1/build/:uuid/artifacts
func (s *Server) handleListArtifacts(c *gin.Context) {
	uuid := c.Param("uuid")

	if _, err := s.db.GetBuild(uuid); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get build"})
		return
	}

	artifacts, err := s.db.ListArtifacts(uuid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list artifacts"})
		return
	}

	c.JSON(http.StatusOK, artifacts)
}

// handleGetArtifact handles GET /api/v1/build/:uuid/artifact/*path and
// streams the artifact bytes.
func (s *Server) handleGetArtifact(c *gin.Context) {
	uuid := c.Param("uuid")
	path := strings.TrimPrefix(c.Param("path"), "/")

	artifact, err := s.db.GetArtifact(uuid, path)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get artifact"})
		return
	}

	s.streamBlob(c, artifact)
}

// handleGetArtifactByHash handles GET /api/v1/artifact/:hash
func (s *Server) handleGetArtifactByHash(c *gin.Context) {
	artifact, err := s.db.GetArtifactByHash(c.Param("hash"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get artifact"})
		return
	}

	s.streamBlob(c, artifact)
}

func (s *Server) streamBlob(c *gin.Context, artifact *models.Artifact) {
	reader, size, err := s.store.Open(artifact.SHA256)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact bytes not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open artifact"})
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, size, "application/octet-stream", reader, nil)
}

// handleFailedBuilds handles GET /api/v1/failed-builds?start=&count=
func (s *Server) handleFailedBuilds(c *gin.Context) {
	start, err := strconv.Atoi(c.DefaultQuery("start", "0"))
	if err != nil || start < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be a non-negative integer"})
		return
	}

	count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
	if err != nil || count < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a non-negative integer"})
		return
	}

	builds, err := s.db.ListFailedBuilds(start, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed builds"})
		return
	}

	c.JSON(http.StatusOK, builds)
}

// handleReproducibility handles GET /api/v1/build/:uuid/reproducibility
func (s *Server) handleReproducibility(c *gin.Context) {
	report, err := repro.Classify(s.db, c.Param("uuid"))
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
		case errors.Is(err, repro.ErrNotComparable):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to classify build"})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleCompare handles GET /api/v1/compare/:left/:right
func (s *Server) handleCompare(c *gin.Context) {
	left, err := s.snapshot(c.Param("left"))
	if err != nil {
		s.compareError(c, err)
		return
	}

	right, err := s.snapshot(c.Param("right"))
	if err != nil {
		s.compareError(c, err)
		return
	}

	report, err := diff.Compare(left, right)
	if err != nil {
		if errors.Is(err, diff.ErrMalformed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compare builds"})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) compareError(c *gin.Context, err error) {
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load build metadata"})
}

// snapshot loads a build's metadata artifacts for diffing. Input-describing
// artifacts the build never uploaded stay empty and diff as empty sets.
func (s *Server) snapshot(uuid string) (diff.Snapshot, error) {
	var snap diff.Snapshot

	if _, err := s.db.GetBuild(uuid); err != nil {
		return snap, err
	}

	fields := []struct {
		filepath string
		dst      *string
	}{
		{"build-environment", &snap.Environment},
		{"system-packages", &snap.SystemPackages},
		{"opam-switch", &snap.SwitchExport},
	}

	for _, f := range fields {
		artifact, err := s.db.GetArtifact(uuid, f.filepath)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return snap, err
		}

		data, err := s.store.Get(artifact.SHA256)
		if err != nil {
			return snap, err
		}
		*f.dst = string(data)
	}

	return snap, nil
}
