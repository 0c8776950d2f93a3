package diff

import "fmt"

// Snapshot is the raw metadata text of one build: its environment, system
// packages and language-package switch export, as uploaded. Missing artifacts
// are represented by empty strings and diff as empty sets.
type Snapshot struct {
	Environment    string
	SystemPackages string
	SwitchExport   string
}

// Report is the full structured difference between two builds' metadata.
type Report struct {
	Environment    MapDiff     `json:"environment"`
	SystemPackages MapDiff     `json:"system_packages"`
	Packages       PackageDiff `json:"packages"`
}

// Compare parses both snapshots and produces the structured report. It is a
// deterministic function of the two inputs; malformed metadata text surfaces
// as ErrMalformed.
func Compare(left, right Snapshot) (*Report, error) {
	leftEnv, err := ParseKeyValue(left.Environment)
	if err != nil {
		return nil, fmt.Errorf("left environment: %w", err)
	}
	rightEnv, err := ParseKeyValue(right.Environment)
	if err != nil {
		return nil, fmt.Errorf("right environment: %w", err)
	}

	leftSys, err := ParseKeyValue(left.SystemPackages)
	if err != nil {
		return nil, fmt.Errorf("left system packages: %w", err)
	}
	rightSys, err := ParseKeyValue(right.SystemPackages)
	if err != nil {
		return nil, fmt.Errorf("right system packages: %w", err)
	}

	leftPkgs, err := ParseSwitchExport(left.SwitchExport)
	if err != nil {
		return nil, fmt.Errorf("left switch export: %w", err)
	}
	rightPkgs, err := ParseSwitchExport(right.SwitchExport)
	if err != nil {
		return nil, fmt.Errorf("right switch export: %w", err)
	}

	return &Report{
		Environment:    DiffMaps(leftEnv, rightEnv),
		SystemPackages: DiffMaps(leftSys, rightSys),
		Packages:       DiffPackages(leftPkgs, rightPkgs),
	}, nil
}
