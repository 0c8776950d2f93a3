package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/roburio/builder-web/internal/models"
)

// buildColumns is the standard select list for build rows, joined with the
// job name and the main binary's content hash.
const buildColumns = `
	SELECT b.id, b.uuid, j.name, b.platform, b.start_time, b.finish_time,
		   b.result_kind, b.result_code, b.console, b.script,
		   b.input_hash, COALESCE(m.sha256, '')
	FROM builds b
	JOIN jobs j ON j.id = b.job_id
	LEFT JOIN artifacts m ON m.id = b.main_binary_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*models.Build, error) {
	var build models.Build
	var inputHash sql.NullString

	err := row.Scan(
		&build.ID,
		&build.UUID,
		&build.JobName,
		&build.Platform,
		&build.StartTime,
		&build.FinishTime,
		&build.Result.Kind,
		&build.Result.Code,
		&build.Console,
		&build.Script,
		&inputHash,
		&build.MainBinarySHA256,
	)
	if err != nil {
		return nil, err
	}

	if inputHash.Valid {
		build.InputHash = inputHash.String
	}

	return &build, nil
}

func (db *DB) queryBuilds(query string, args ...any) ([]models.Build, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	var builds []models.Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build row: %w", err)
		}
		builds = append(builds, *build)
	}

	return builds, rows.Err()
}

// RegisterBuild inserts one build and its artifacts as a single transaction:
// the job row is inserted or reused, the build row inserted, one artifact row
// added per file and the main binary reference resolved. A duplicate build
// UUID fails the whole operation with ErrConflict and writes nothing. The
// artifact blobs must already be durable in the store before this is called,
// so readers never observe a build whose bytes are missing.
func (db *DB) RegisterBuild(rec *models.ExecutionRecord, artifacts []models.Artifact) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM builds WHERE uuid = ?", rec.UUID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check build uuid: %w", err)
	}
	if exists > 0 {
		return 0, fmt.Errorf("build %s: %w", rec.UUID, ErrConflict)
	}

	jobID, err := upsertJob(tx, rec.Job)
	if err != nil {
		return 0, err
	}

	inputHash := models.ComputeInputHash(artifacts)
	var inputHashVal sql.NullString
	if inputHash != "" {
		inputHashVal = sql.NullString{String: inputHash, Valid: true}
	}

	result, err := tx.Exec(`
		INSERT INTO builds (
			uuid, job_id, platform, start_time, finish_time,
			result_kind, result_code, console, script, input_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.UUID,
		jobID,
		rec.Platform,
		rec.StartTime.UTC(),
		rec.FinishTime.UTC(),
		rec.Result.Kind,
		rec.Result.Code,
		rec.Console,
		rec.Script,
		inputHashVal,
	)
	if err != nil {
		// The unique constraint resolves racing registrations of one UUID.
		if strings.Contains(err.Error(), "UNIQUE constraint failed: builds.uuid") {
			return 0, fmt.Errorf("build %s: %w", rec.UUID, ErrConflict)
		}
		return 0, fmt.Errorf("failed to insert build: %w", err)
	}

	buildID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get build ID: %w", err)
	}

	var mainBinaryID int64
	for _, a := range artifacts {
		res, err := tx.Exec(`
			INSERT INTO artifacts (build_id, filepath, local_path, sha256, size)
			VALUES (?, ?, ?, ?, ?)
		`, buildID, a.Filepath, a.LocalPath, a.SHA256, a.Size)
		if err != nil {
			return 0, fmt.Errorf("failed to insert artifact %s: %w", a.Filepath, err)
		}
		if rec.MainBinary != "" && a.Filepath == rec.MainBinary {
			mainBinaryID, err = res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("failed to get artifact ID: %w", err)
			}
		}
	}

	if mainBinaryID != 0 {
		if _, err := tx.Exec("UPDATE builds SET main_binary_id = ? WHERE id = ?", mainBinaryID, buildID); err != nil {
			return 0, fmt.Errorf("failed to set main binary: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit registration: %w", err)
	}

	return buildID, nil
}

// GetBuild retrieves a build by UUID
func (db *DB) GetBuild(uuid string) (*models.Build, error) {
	build, err := scanBuild(db.QueryRow(buildColumns+"WHERE b.uuid = ?", uuid))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("build %s: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query build: %w", err)
	}
	return build, nil
}

// ListBuilds returns all builds for a job, most recent first.
func (db *DB) ListBuilds(jobName string) ([]models.Build, error) {
	return db.queryBuilds(buildColumns+"WHERE j.name = ? ORDER BY b.start_time DESC", jobName)
}

// ListFailedBuilds returns builds whose execution did not succeed, most
// recent first, at most count records beginning at offset start.
func (db *DB) ListFailedBuilds(start, count int) ([]models.Build, error) {
	if start < 0 || count < 0 {
		return nil, fmt.Errorf("pagination parameters must be non-negative")
	}
	return db.queryBuilds(buildColumns+`
		WHERE NOT (b.result_kind = ? AND b.result_code = 0)
		ORDER BY b.start_time DESC
		LIMIT ? OFFSET ?
	`, models.ResultExited, count, start)
}

// LatestSuccessfulBuild returns the most recent successful build for a
// job+platform, excluding the given build UUID.
func (db *DB) LatestSuccessfulBuild(jobName, platform, excludeUUID string) (*models.Build, error) {
	builds, err := db.queryBuilds(buildColumns+`
		WHERE j.name = ? AND b.platform = ?
			AND b.result_kind = ? AND b.result_code = 0
			AND b.uuid != ?
		ORDER BY b.start_time DESC
		LIMIT 1
	`, jobName, platform, models.ResultExited, excludeUUID)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("no successful build for %s on %s: %w", jobName, platform, ErrNotFound)
	}
	return &builds[0], nil
}

// RemoveBuild removes a build and its artifact rows. Blob cleanup is
// deliberately separate (see ReferencedHashes); the relational removal must
// commit first.
func (db *DB) RemoveBuild(uuid string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := removeBuildTx(tx, uuid); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}
	return nil
}

func removeBuildTx(tx *sql.Tx, uuid string) error {
	var buildID int64
	err := tx.QueryRow("SELECT id FROM builds WHERE uuid = ?", uuid).Scan(&buildID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("build %s: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up build: %w", err)
	}

	// Clear the artifact reference before deleting artifact rows.
	if _, err := tx.Exec("UPDATE builds SET main_binary_id = NULL WHERE id = ?", buildID); err != nil {
		return fmt.Errorf("failed to clear main binary: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM artifacts WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM builds WHERE id = ?", buildID); err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}

	return nil
}
