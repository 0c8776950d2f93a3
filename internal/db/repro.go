package db

import (
	"github.com/roburio/builder-web/internal/models"
)

// Classification queries. Candidates are always scoped to the reference
// build's job and platform, restricted to successful builds and excluding the
// reference itself. Builds without a main binary never enter output
// comparisons; builds without an input hash never enter input comparisons.

const classifyScope = `
	WHERE j.name = ? AND b.platform = ?
		AND b.result_kind = 'exited' AND b.result_code = 0
		AND b.uuid != ?
`

// SameInputSameOutput returns builds with the reference's input hash whose
// main binary hashes identically: confirmed reproductions.
func (db *DB) SameInputSameOutput(ref *models.Build) ([]models.Build, error) {
	return db.queryBuilds(buildColumns+classifyScope+`
		AND b.input_hash = ?
		AND m.sha256 = ?
		ORDER BY b.start_time DESC
	`, ref.JobName, ref.Platform, ref.UUID, ref.InputHash, ref.MainBinarySHA256)
}

// SameInputDifferentOutput returns builds with the reference's input hash but
// a different main binary: the same recipe produced different bytes, which
// flags a non-reproducibility defect.
func (db *DB) SameInputDifferentOutput(ref *models.Build) ([]models.Build, error) {
	return db.queryBuilds(buildColumns+classifyScope+`
		AND b.input_hash = ?
		AND m.sha256 IS NOT NULL AND m.sha256 != ?
		ORDER BY b.start_time DESC
	`, ref.JobName, ref.Platform, ref.UUID, ref.InputHash, ref.MainBinarySHA256)
}

// DifferentInputSameOutput returns builds with a differing input hash whose
// main binary still hashes identically: output-level reproducibility despite
// environment drift.
func (db *DB) DifferentInputSameOutput(ref *models.Build) ([]models.Build, error) {
	return db.queryBuilds(buildColumns+classifyScope+`
		AND b.input_hash IS NOT NULL AND b.input_hash != ?
		AND m.sha256 = ?
		ORDER BY b.start_time DESC
	`, ref.JobName, ref.Platform, ref.UUID, ref.InputHash, ref.MainBinarySHA256)
}

// NextOutputChange returns the earliest successful build strictly after the
// reference whose main binary differs, bracketing when the output changed.
func (db *DB) NextOutputChange(ref *models.Build) (*models.Build, error) {
	builds, err := db.queryBuilds(buildColumns+classifyScope+`
		AND b.start_time > ?
		AND m.sha256 IS NOT NULL AND m.sha256 != ?
		ORDER BY b.start_time ASC
		LIMIT 1
	`, ref.JobName, ref.Platform, ref.UUID, ref.StartTime.UTC(), ref.MainBinarySHA256)
	if err != nil || len(builds) == 0 {
		return nil, err
	}
	return &builds[0], nil
}

// PreviousOutputChange returns the latest successful build strictly before
// the reference whose main binary differs.
func (db *DB) PreviousOutputChange(ref *models.Build) (*models.Build, error) {
	builds, err := db.queryBuilds(buildColumns+classifyScope+`
		AND b.start_time < ?
		AND m.sha256 IS NOT NULL AND m.sha256 != ?
		ORDER BY b.start_time DESC
		LIMIT 1
	`, ref.JobName, ref.Platform, ref.UUID, ref.StartTime.UTC(), ref.MainBinarySHA256)
	if err != nil || len(builds) == 0 {
		return nil, err
	}
	return &builds[0], nil
}
