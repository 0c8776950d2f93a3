package db

import (
	"database/sql"
	"fmt"

	"github.com/roburio/builder-web/internal/models"
)

const artifactColumns = `
	SELECT a.id, a.build_id, a.filepath, a.local_path, a.sha256, a.size
	FROM artifacts a
`

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var a models.Artifact
	err := row.Scan(&a.ID, &a.BuildID, &a.Filepath, &a.LocalPath, &a.SHA256, &a.Size)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetArtifact retrieves one artifact of a build by its logical path.
func (db *DB) GetArtifact(buildUUID, filepath string) (*models.Artifact, error) {
	artifact, err := scanArtifact(db.QueryRow(artifactColumns+`
		JOIN builds b ON b.id = a.build_id
		WHERE b.uuid = ? AND a.filepath = ?
	`, buildUUID, filepath))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact %s of build %s: %w", filepath, buildUUID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}
	return artifact, nil
}

// GetArtifactByHash retrieves an artifact by content hash. Identical content
// may back many artifact rows; any one of them describes the blob.
func (db *DB) GetArtifactByHash(sha256 string) (*models.Artifact, error) {
	artifact, err := scanArtifact(db.QueryRow(artifactColumns+`
		WHERE a.sha256 = ?
		LIMIT 1
	`, sha256))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact with hash %s: %w", sha256, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}
	return artifact, nil
}

// ListArtifacts returns all artifacts of a build ordered by logical path.
func (db *DB) ListArtifacts(buildUUID string) ([]models.Artifact, error) {
	rows, err := db.Query(artifactColumns+`
		JOIN builds b ON b.id = a.build_id
		WHERE b.uuid = ?
		ORDER BY a.filepath
	`, buildUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, *artifact)
	}

	return artifacts, rows.Err()
}

// ReferencedHashes returns every content hash the catalog still references.
// This is the mark phase of blob garbage collection; the store sweeps
// everything outside the set.
func (db *DB) ReferencedHashes() (map[string]bool, error) {
	rows, err := db.Query("SELECT DISTINCT sha256 FROM artifacts")
	if err != nil {
		return nil, fmt.Errorf("failed to query referenced hashes: %w", err)
	}
	defer rows.Close()

	referenced := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan hash row: %w", err)
		}
		referenced[hash] = true
	}

	return referenced, rows.Err()
}
