// Package repro classifies historical builds by reproducibility relative to
// a reference build: did rebuilding the same job, with the same or a drifted
// recipe, yield byte-identical output?
package repro

import (
	"errors"
	"fmt"

	"github.com/roburio/builder-web/internal/db"
	"github.com/roburio/builder-web/internal/models"
)

// ErrNotComparable is returned when the reference build cannot anchor a
// classification: it either failed or produced no main binary.
var ErrNotComparable = errors.New("repro: build has no comparable output")

// Classification is the reproducibility report for one reference build. The
// same-input categories are disjoint by construction; the different-input
// category may overlap neither.
type Classification struct {
	Reference models.Build `json:"reference"`

	// SameInputSameOutput are confirmed reproductions: identical recipe,
	// identical bytes.
	SameInputSameOutput []models.Build `json:"same_input_same_output"`

	// DifferentInputSameOutput are builds that produced identical bytes
	// despite a drifted recipe; still reproduced at the output level.
	DifferentInputSameOutput []models.Build `json:"different_input_same_output"`

	// SameInputDifferentOutput flags the defect case: identical recipe,
	// different bytes. Worth investigating, never benign.
	SameInputDifferentOutput []models.Build `json:"same_input_different_output"`

	// LatestSuccessful is the most recent successful build of the same
	// job+platform other than the reference, nil when none exists.
	LatestSuccessful *models.Build `json:"latest_successful,omitempty"`

	// NextOutputChange and PreviousOutputChange bracket when the output
	// last changed around the reference build.
	NextOutputChange     *models.Build `json:"next_output_change,omitempty"`
	PreviousOutputChange *models.Build `json:"previous_output_change,omitempty"`
}

// Classify computes the reproducibility report for the build with the given
// UUID. The reference must be a successful build with a main binary.
func Classify(database *db.DB, uuid string) (*Classification, error) {
	ref, err := database.GetBuild(uuid)
	if err != nil {
		return nil, err
	}

	if !ref.Result.Successful() {
		return nil, fmt.Errorf("build %s did not succeed: %w", uuid, ErrNotComparable)
	}
	if ref.MainBinarySHA256 == "" {
		return nil, fmt.Errorf("build %s has no main binary: %w", uuid, ErrNotComparable)
	}

	report := &Classification{Reference: *ref}

	// Input comparisons only make sense when the reference declared its
	// inputs; without an input hash both same-input categories stay empty.
	if ref.InputHash != "" {
		if report.SameInputSameOutput, err = database.SameInputSameOutput(ref); err != nil {
			return nil, err
		}
		if report.SameInputDifferentOutput, err = database.SameInputDifferentOutput(ref); err != nil {
			return nil, err
		}
		if report.DifferentInputSameOutput, err = database.DifferentInputSameOutput(ref); err != nil {
			return nil, err
		}
	}

	latest, err := database.LatestSuccessfulBuild(ref.JobName, ref.Platform, ref.UUID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	report.LatestSuccessful = latest

	if report.NextOutputChange, err = database.NextOutputChange(ref); err != nil {
		return nil, err
	}
	if report.PreviousOutputChange, err = database.PreviousOutputChange(ref); err != nil {
		return nil, err
	}

	return report, nil
}
