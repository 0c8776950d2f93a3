package models

// Job is a named, recurring build target. Jobs are created implicitly by the
// first registered build that references them and only their metadata is ever
// mutated afterwards.
type Job struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Section  string `json:"section,omitempty" db:"section"`
	Synopsis string `json:"synopsis,omitempty" db:"synopsis"`
	Readme   string `json:"readme,omitempty" db:"readme"`
}
