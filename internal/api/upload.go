package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/roburio/builder-web/internal/db"
	"github.com/roburio/builder-web/internal/models"
	"github.com/roburio/builder-web/internal/store"
)

// handleUpload handles POST /api/v1/upload. The body is one execution record
// with base64 file payloads. Blobs are committed to the store before the
// catalog transaction so readers never see a build whose bytes are missing;
// blobs of a rejected registration stay behind (content-addressed, harmless)
// until a cleanup pass.
func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	var rec models.ExecutionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := rec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	artifacts := make([]models.Artifact, 0, len(rec.Files))
	for _, f := range rec.Files {
		var (
			hash, localPath string
			err             error
		)
		if f.SHA256 != "" {
			hash, localPath, err = s.store.PutDeclared(f.Data, f.SHA256)
		} else {
			hash, localPath, err = s.store.Put(f.Data)
		}
		if errors.Is(err, store.ErrCorrupt) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file %s: %v", f.Filepath, err)})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("filepath", f.Filepath).Msg("failed to store artifact")
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to store %s", f.Filepath)})
			return
		}

		artifacts = append(artifacts, models.Artifact{
			Filepath:  f.Filepath,
			LocalPath: localPath,
			SHA256:    hash,
			Size:      int64(len(f.Data)),
		})
	}

	if _, err := s.db.RegisterBuild(&rec, artifacts); err != nil {
		if errors.Is(err, db.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("build %s already exists", rec.UUID)})
			return
		}
		log.Error().Err(err).Str("uuid", rec.UUID).Msg("failed to register build")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register build"})
		return
	}

	log.Info().
		Str("uuid", rec.UUID).
		Str("job", rec.Job).
		Str("platform", rec.Platform).
		Int("files", len(rec.Files)).
		Msg("registered build")

	c.JSON(http.StatusCreated, gin.H{"uuid": rec.UUID})
}

// handleRemoveBuild handles DELETE /api/v1/build/:uuid
func (s *Server) handleRemoveBuild(c *gin.Context) {
	uuid := c.Param("uuid")

	if err := s.db.RemoveBuild(uuid); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove build"})
		return
	}

	log.Info().Str("uuid", uuid).Msg("removed build")
	c.Status(http.StatusNoContent)
}

// handleRemoveJob handles DELETE /api/v1/job/:name
func (s *Server) handleRemoveJob(c *gin.Context) {
	name := c.Param("name")

	if err := s.db.RemoveJob(name); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove job"})
		return
	}

	log.Info().Str("job", name).Msg("removed job")
	c.Status(http.StatusNoContent)
}

// handleCleanup handles POST /api/v1/cleanup: mark referenced hashes in the
// catalog, then sweep unreferenced blobs from the store. The relational state
// is never touched, so this is safe to run at any time.
func (s *Server) handleCleanup(c *gin.Context) {
	referenced, err := s.db.ReferencedHashes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect referenced hashes"})
		return
	}

	removed, err := s.store.SweepUnreferenced(referenced)
	if err != nil {
		log.Error().Err(err).Msg("blob sweep finished with errors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed", "removed": removed})
		return
	}

	log.Info().Int("removed", removed).Msg("swept unreferenced blobs")
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
