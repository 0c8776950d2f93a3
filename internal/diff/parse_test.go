package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyValue(t *testing.T) {
	text := `
# build environment
PATH=/usr/bin:/bin
CC=gcc
EMPTY=

OPAMROOT=/home/builder/.opam
`
	got, err := ParseKeyValue(text)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"PATH":     "/usr/bin:/bin",
		"CC":       "gcc",
		"EMPTY":    "",
		"OPAMROOT": "/home/builder/.opam",
	}, got)
}

func TestParseKeyValueMalformed(t *testing.T) {
	_, err := ParseKeyValue("PATH=/usr/bin\nnot a pair\n")
	assert.ErrorIs(t, err, ErrMalformed)
}

const sampleExport = `
opam-version: "2.0"
compiler: ["ocaml-base-compiler.4.14.1"]
roots: ["unikernel.dev"]
installed: ["lwt.5.6.1" "mirage.4.4.0"]

package "lwt.5.6.1" {
  opam-version: "2.0"
  name: "lwt"
  version: "5.6.1"
  synopsis: "Promises and event-driven I/O"
  depends: ["ocaml" "dune"]
  build: [
    ["dune" "subst"]
    ["dune" "build" "-p" name "-j" jobs]
  ]
  url {
    src: "https://github.com/ocsigen/lwt/archive/5.6.1.tar.gz"
    checksum: "sha256=deadbeef"
  }
}

package "mirage.4.4.0" {
  name: "mirage"
  version: "4.4.0"
  install: [["cp" "mirage" "%{bin}%/mirage"]]
}
`

func TestParseSwitchExport(t *testing.T) {
	packages, err := ParseSwitchExport(sampleExport)
	require.NoError(t, err)
	require.Len(t, packages, 2)

	// Sorted by name.
	lwt := packages[0]
	assert.Equal(t, "lwt", lwt.Name)
	assert.Equal(t, "5.6.1", lwt.Version)
	assert.Equal(t, "https://github.com/ocsigen/lwt/archive/5.6.1.tar.gz", lwt.SourceURL)
	require.Len(t, lwt.BuildCommands, 2)
	assert.Equal(t, []string{"dune", "subst"}, lwt.BuildCommands[0])
	assert.Equal(t, []string{"dune", "build", "-p", "name", "-j", "jobs"}, lwt.BuildCommands[1])

	mirage := packages[1]
	assert.Equal(t, "mirage", mirage.Name)
	assert.Equal(t, "4.4.0", mirage.Version)
	assert.Empty(t, mirage.SourceURL)
	require.Len(t, mirage.InstallCommands, 1)
	assert.Equal(t, []string{"cp", "mirage", "%{bin}%/mirage"}, mirage.InstallCommands[0])
}

func TestParseSwitchExportHeaderNameVersion(t *testing.T) {
	// Name and version fall back to the block header when the explicit
	// fields are absent.
	packages, err := ParseSwitchExport(`package "foo.1.2.3" { synopsis: "x" }`)
	require.NoError(t, err)
	require.Len(t, packages, 1)
	assert.Equal(t, "foo", packages[0].Name)
	assert.Equal(t, "1.2.3", packages[0].Version)
}

func TestParseSwitchExportEmpty(t *testing.T) {
	packages, err := ParseSwitchExport("")
	require.NoError(t, err)
	assert.Empty(t, packages)
}

func TestParseSwitchExportMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"unterminated block", `package "foo.1" { name: "foo"`},
		{"unterminated string", `package "foo`},
		{"missing name", `package { version: "1" }`},
		{"stray bracket", `]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSwitchExport(tt.text)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCompare(t *testing.T) {
	left := Snapshot{
		Environment:    "PATH=/usr/bin\nCC=gcc\n",
		SystemPackages: "gcc=12.2\nmake=4.3\n",
		SwitchExport:   `package "lwt.5.6.1" { name: "lwt" version: "5.6.1" }`,
	}
	right := Snapshot{
		Environment:    "PATH=/usr/bin\nCC=clang\n",
		SystemPackages: "gcc=12.2\nmake=4.4\n",
		SwitchExport:   `package "lwt.5.7.0" { name: "lwt" version: "5.7.0" }`,
	}

	report, err := Compare(left, right)
	require.NoError(t, err)

	require.Len(t, report.Environment.Changed, 1)
	assert.Equal(t, Change{Key: "CC", Old: "gcc", New: "clang"}, report.Environment.Changed[0])

	require.Len(t, report.SystemPackages.Changed, 1)
	assert.Equal(t, Change{Key: "make", Old: "4.3", New: "4.4"}, report.SystemPackages.Changed[0])

	require.Len(t, report.Packages.VersionChanged, 1)
	assert.Equal(t, VersionChange{Name: "lwt", OldVersion: "5.6.1", NewVersion: "5.7.0"}, report.Packages.VersionChanged[0])
}

func TestCompareMalformed(t *testing.T) {
	_, err := Compare(Snapshot{Environment: "broken line"}, Snapshot{})
	assert.ErrorIs(t, err, ErrMalformed)
}
