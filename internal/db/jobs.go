package db

import (
	"database/sql"
	"fmt"

	"github.com/roburio/builder-web/internal/models"
)

func upsertJob(tx *sql.Tx, name string) (int64, error) {
	var jobID int64
	err := tx.QueryRow("SELECT id FROM jobs WHERE name = ?", name).Scan(&jobID)
	if err == nil {
		return jobID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up job: %w", err)
	}

	result, err := tx.Exec("INSERT INTO jobs (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}

	jobID, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get job ID: %w", err)
	}

	return jobID, nil
}

// GetJob retrieves a job by name
func (db *DB) GetJob(name string) (*models.Job, error) {
	var job models.Job
	err := db.QueryRow(`
		SELECT id, name, section, synopsis, readme
		FROM jobs
		WHERE name = ?
	`, name).Scan(&job.ID, &job.Name, &job.Section, &job.Synopsis, &job.Readme)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	return &job, nil
}

// ListJobs returns all jobs ordered by section and name. A non-empty section
// restricts the listing to that section.
func (db *DB) ListJobs(section string) ([]models.Job, error) {
	query := `
		SELECT id, name, section, synopsis, readme
		FROM jobs
	`
	var args []any
	if section != "" {
		query += "WHERE section = ?\n"
		args = append(args, section)
	}
	query += "ORDER BY section, name"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(&job.ID, &job.Name, &job.Section, &job.Synopsis, &job.Readme); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// UpdateJobMetadata sets a job's section, synopsis and readme. Job names are
// immutable; metadata is the only thing a job ever changes.
func (db *DB) UpdateJobMetadata(name, section, synopsis, readme string) error {
	result, err := db.Exec(`
		UPDATE jobs SET section = ?, synopsis = ?, readme = ?
		WHERE name = ?
	`, section, synopsis, readme, name)
	if err != nil {
		return fmt.Errorf("failed to update job metadata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", name, ErrNotFound)
	}

	return nil
}

// RemoveJob removes a job and all its builds and artifact rows in one
// transaction. Blob cleanup is sequenced separately after the commit.
func (db *DB) RemoveJob(name string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID int64
	err = tx.QueryRow("SELECT id FROM jobs WHERE name = ?", name).Scan(&jobID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("job %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}

	rows, err := tx.Query("SELECT uuid FROM builds WHERE job_id = ?", jobID)
	if err != nil {
		return fmt.Errorf("failed to query job builds: %w", err)
	}
	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan build uuid: %w", err)
		}
		uuids = append(uuids, uuid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate job builds: %w", err)
	}

	for _, uuid := range uuids {
		if err := removeBuildTx(tx, uuid); err != nil {
			return err
		}
	}

	if _, err := tx.Exec("DELETE FROM jobs WHERE id = ?", jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}

	return nil
}
