package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileUpload is one (logical path, byte content) pair of an execution record.
// Content arrives base64-encoded in JSON uploads.
type FileUpload struct {
	Filepath string `json:"filepath" binding:"required"`
	Data     []byte `json:"data"`

	// SHA256, when set, is the hash the uploader claims for Data. The store
	// verifies it and rejects the write on mismatch.
	SHA256 string `json:"sha256,omitempty"`
}

// ExecutionRecord is the structured record a build runner uploads for one
// finished execution: job metadata plus the produced files.
type ExecutionRecord struct {
	UUID       string       `json:"uuid"`
	Job        string       `json:"job" binding:"required"`
	Platform   string       `json:"platform" binding:"required"`
	StartTime  time.Time    `json:"start_time"`
	FinishTime time.Time    `json:"finish_time"`
	Result     ExecResult   `json:"result"`
	Console    string       `json:"console,omitempty"`
	Script     string       `json:"script,omitempty"`
	Files      []FileUpload `json:"files"`

	// MainBinary is the logical path of the designated main output binary,
	// empty when the build produced none (e.g. a failed build).
	MainBinary string `json:"main_binary,omitempty"`
}

// Validate checks the record and fills in a UUID for manual uploads that did
// not supply one. Runner uploads are expected to carry their own UUID.
func (r *ExecutionRecord) Validate() error {
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(r.UUID); err != nil {
		return fmt.Errorf("invalid build uuid %q: %w", r.UUID, err)
	}

	if r.Job == "" {
		return fmt.Errorf("job name is required")
	}
	if r.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if !r.Result.Valid() {
		return fmt.Errorf("invalid execution result kind %q", string(r.Result.Kind))
	}

	seen := make(map[string]bool, len(r.Files))
	for _, f := range r.Files {
		if f.Filepath == "" {
			return fmt.Errorf("file upload with empty filepath")
		}
		if seen[f.Filepath] {
			return fmt.Errorf("duplicate file upload %q", f.Filepath)
		}
		seen[f.Filepath] = true
	}

	if r.MainBinary != "" && !seen[r.MainBinary] {
		return fmt.Errorf("main binary %q not among uploaded files", r.MainBinary)
	}

	return nil
}
