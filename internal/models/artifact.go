package models

// Artifact is one output file of a Build. The bytes live in the
// content-addressed store; LocalPath is derived purely from SHA256, so any
// number of artifacts with identical content share one physical blob.
type Artifact struct {
	ID        int64  `json:"id" db:"id"`
	BuildID   int64  `json:"build_id" db:"build_id"`
	Filepath  string `json:"filepath" db:"filepath"`
	LocalPath string `json:"local_path" db:"local_path"`
	SHA256    string `json:"sha256" db:"sha256"`
	Size      int64  `json:"size" db:"size"`
}
