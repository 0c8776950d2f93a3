package models

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// ResultKind tags the outcome of a build execution.
type ResultKind string

const (
	ResultExited    ResultKind = "exited"
	ResultSignalled ResultKind = "signalled"
	ResultTimedOut  ResultKind = "timed_out"
)

// ExecResult is the outcome of one build execution. It is a closed sum:
// Exited carries an exit code, Signalled carries a signal number, TimedOut
// carries nothing.
type ExecResult struct {
	Kind ResultKind `json:"kind" db:"result_kind"`
	Code int        `json:"code,omitempty" db:"result_code"`
}

// Successful reports whether the execution counts as a successful build.
// Only a clean exit does; signals and timeouts never do.
func (r ExecResult) Successful() bool {
	switch r.Kind {
	case ResultExited:
		return r.Code == 0
	case ResultSignalled, ResultTimedOut:
		return false
	default:
		return false
	}
}

// Valid reports whether the result kind is one of the known tags.
func (r ExecResult) Valid() bool {
	switch r.Kind {
	case ResultExited, ResultSignalled, ResultTimedOut:
		return true
	default:
		return false
	}
}

func (r ExecResult) String() string {
	switch r.Kind {
	case ResultExited:
		return fmt.Sprintf("exited %d", r.Code)
	case ResultSignalled:
		return fmt.Sprintf("signalled %d", r.Code)
	case ResultTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("unknown result %q", string(r.Kind))
	}
}

// Build is one timestamped execution of a Job on a platform, identified by a
// globally unique UUID supplied by the build runner.
type Build struct {
	ID         int64      `json:"id" db:"id"`
	UUID       string     `json:"uuid" db:"uuid"`
	JobName    string     `json:"job" db:"job_name"`
	Platform   string     `json:"platform" db:"platform"`
	StartTime  time.Time  `json:"start_time" db:"start_time"`
	FinishTime time.Time  `json:"finish_time" db:"finish_time"`
	Result     ExecResult `json:"result"`
	Console    string     `json:"console,omitempty" db:"console"`
	Script     string     `json:"script,omitempty" db:"script"`

	// InputHash identifies the build's declared inputs (environment and
	// package set). Empty when the build uploaded no input-describing
	// artifacts; such builds are excluded from input comparisons.
	InputHash string `json:"input_hash,omitempty" db:"input_hash"`

	// MainBinarySHA256 is the content hash of the designated main binary
	// artifact, empty when the build produced none.
	MainBinarySHA256 string `json:"main_binary_sha256,omitempty" db:"main_binary_sha256"`
}

// InputArtifactPaths are the logical paths whose contents define a build's
// input identity: two builds with identical content at these paths had the
// same recipe.
var InputArtifactPaths = []string{
	"build-environment",
	"opam-switch",
	"system-packages",
}

// ComputeInputHash derives the input hash from a build's artifacts. The hash
// covers the sorted (filepath, sha256) pairs of the input-describing artifacts
// so it is independent of upload order. Returns "" when none are present.
func ComputeInputHash(artifacts []Artifact) string {
	byPath := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		byPath[a.Filepath] = a.SHA256
	}

	paths := make([]string, len(InputArtifactPaths))
	copy(paths, InputArtifactPaths)
	sort.Strings(paths)

	var input string
	found := false
	for _, p := range paths {
		if sum, ok := byPath[p]; ok {
			input += fmt.Sprintf("%s=%s\n", p, sum)
			found = true
		}
	}
	if !found {
		return ""
	}

	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)
}
