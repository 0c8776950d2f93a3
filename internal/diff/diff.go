// Package diff computes structured differences between two builds'
// environment, system-package and language-package metadata. The package is
// pure: every function is a deterministic function of its inputs with no I/O.
package diff

import (
	"sort"
)

// Entry is one key/value pair of an environment or system-package map.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Change is a key present on both sides with differing values.
type Change struct {
	Key string `json:"key"`
	Old string `json:"old"`
	New string `json:"new"`
}

// MapDiff partitions the keys of two maps. Added keys exist only on the
// right side, removed only on the left; all slices are sorted by key.
type MapDiff struct {
	Added     []Entry  `json:"added"`
	Removed   []Entry  `json:"removed"`
	Changed   []Change `json:"changed"`
	Unchanged []Entry  `json:"unchanged"`
}

// DiffMaps partitions the key universe of left and right into added, removed,
// changed and unchanged. Used for environment variables and system packages
// (name to version) alike.
func DiffMaps(left, right map[string]string) MapDiff {
	var d MapDiff

	for key, oldValue := range left {
		newValue, ok := right[key]
		switch {
		case !ok:
			d.Removed = append(d.Removed, Entry{Key: key, Value: oldValue})
		case oldValue != newValue:
			d.Changed = append(d.Changed, Change{Key: key, Old: oldValue, New: newValue})
		default:
			d.Unchanged = append(d.Unchanged, Entry{Key: key, Value: oldValue})
		}
	}

	for key, value := range right {
		if _, ok := left[key]; !ok {
			d.Added = append(d.Added, Entry{Key: key, Value: value})
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Key < d.Added[j].Key })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Key < d.Removed[j].Key })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Key < d.Changed[j].Key })
	sort.Slice(d.Unchanged, func(i, j int) bool { return d.Unchanged[i].Key < d.Unchanged[j].Key })

	return d
}

// Package is one language package with its structured metadata as parsed
// from a switch export.
type Package struct {
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	BuildCommands   [][]string `json:"build_commands,omitempty"`
	InstallCommands [][]string `json:"install_commands,omitempty"`
	SourceURL       string     `json:"source_url,omitempty"`
}

// VersionChange is a package present on both sides under different versions.
type VersionChange struct {
	Name       string `json:"name"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

// CommandChange reports differing command sequences with the longest common
// prefix of both sides stripped, so shared boilerplate is not re-reported.
type CommandChange struct {
	Old [][]string `json:"old"`
	New [][]string `json:"new"`
}

// MetadataChange is a package whose name and version match on both sides but
// whose build/install commands or source URL differ at the field level.
type MetadataChange struct {
	Name             string         `json:"name"`
	Version          string         `json:"version"`
	Build            *CommandChange `json:"build,omitempty"`
	Install          *CommandChange `json:"install,omitempty"`
	SourceURLChanged *Change        `json:"source_url,omitempty"`
}

// PackageDiff partitions the package name universe of two package sets.
type PackageDiff struct {
	Same            []Package        `json:"same"`
	Added           []Package        `json:"added"`
	Removed         []Package        `json:"removed"`
	VersionChanged  []VersionChange  `json:"version_changed"`
	MetadataChanged []MetadataChange `json:"metadata_changed"`
}

// DiffPackages partitions the package name universe of left and right into
// same, added, removed, version-changed and metadata-changed. All slices are
// sorted by package name.
func DiffPackages(left, right []Package) PackageDiff {
	var d PackageDiff

	byName := make(map[string]Package, len(right))
	for _, pkg := range right {
		byName[pkg.Name] = pkg
	}

	seen := make(map[string]bool, len(left))
	for _, l := range left {
		seen[l.Name] = true

		r, ok := byName[l.Name]
		if !ok {
			d.Removed = append(d.Removed, l)
			continue
		}

		if l.Version != r.Version {
			d.VersionChanged = append(d.VersionChanged, VersionChange{
				Name:       l.Name,
				OldVersion: l.Version,
				NewVersion: r.Version,
			})
			continue
		}

		if change, differs := diffMetadata(l, r); differs {
			d.MetadataChanged = append(d.MetadataChanged, change)
		} else {
			d.Same = append(d.Same, l)
		}
	}

	for _, r := range right {
		if !seen[r.Name] {
			d.Added = append(d.Added, r)
		}
	}

	sort.Slice(d.Same, func(i, j int) bool { return d.Same[i].Name < d.Same[j].Name })
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Name < d.Added[j].Name })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Name < d.Removed[j].Name })
	sort.Slice(d.VersionChanged, func(i, j int) bool { return d.VersionChanged[i].Name < d.VersionChanged[j].Name })
	sort.Slice(d.MetadataChanged, func(i, j int) bool { return d.MetadataChanged[i].Name < d.MetadataChanged[j].Name })

	return d
}

func diffMetadata(l, r Package) (MetadataChange, bool) {
	change := MetadataChange{Name: l.Name, Version: l.Version}
	differs := false

	if !commandsEqual(l.BuildCommands, r.BuildCommands) {
		old, new := StripCommonPrefix(l.BuildCommands, r.BuildCommands)
		change.Build = &CommandChange{Old: old, New: new}
		differs = true
	}
	if !commandsEqual(l.InstallCommands, r.InstallCommands) {
		old, new := StripCommonPrefix(l.InstallCommands, r.InstallCommands)
		change.Install = &CommandChange{Old: old, New: new}
		differs = true
	}
	if l.SourceURL != r.SourceURL {
		change.SourceURLChanged = &Change{Key: "src", Old: l.SourceURL, New: r.SourceURL}
		differs = true
	}

	return change, differs
}

// StripCommonPrefix drops the longest common prefix shared by two command
// sequences and returns the remainders, so unrelated boilerplate present in
// both is reported only once (namely never).
func StripCommonPrefix(old, new [][]string) ([][]string, [][]string) {
	i := 0
	for i < len(old) && i < len(new) && commandEqual(old[i], new[i]) {
		i++
	}
	return old[i:], new[i:]
}

func commandEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func commandsEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !commandEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
