// Package migrations finds the raw SQL migration files that build the test
// schema and replays them against a database.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// File is one migration script.
type File struct {
	Path    string
	Version string
}

var versionPattern = regexp.MustCompile(`^[vV]([^_]+)_`)

// VersionOf derives a migration version from a file name: "V1.2_add_users.sql"
// has version "1.2"; names without the V<version>_ prefix use the base name.
func VersionOf(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".sql")
	if m := versionPattern.FindStringSubmatch(base); m != nil {
		return m[1]
	}
	return base
}

// Discover expands entries into ordered migration files. A directory entry
// contributes <dir>/*.sql, or <dir>/<engine>/*.sql when the former is empty.
// A file entry is taken as-is. A later file with the same version replaces
// an earlier one.
func Discover(entries []string, engine string) ([]File, error) {
	byVersion := make(map[string]string)
	for _, entry := range entries {
		info, err := os.Stat(entry)
		if err != nil {
			return nil, fmt.Errorf("migration path %s: %w", entry, err)
		}

		var files []string
		if info.IsDir() {
			files, err = filepath.Glob(filepath.Join(entry, "*.sql"))
			if err == nil && len(files) == 0 && engine != "" {
				files, err = filepath.Glob(filepath.Join(entry, engine, "*.sql"))
			}
			if err != nil {
				return nil, fmt.Errorf("listing migrations in %s: %w", entry, err)
			}
			sort.Strings(files)
		} else {
			files = []string{entry}
		}

		for _, f := range files {
			byVersion[VersionOf(f)] = f
		}
	}

	out := make([]File, 0, len(byVersion))
	for v, p := range byVersion {
		out = append(out, File{Path: p, Version: v})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessVersion(out[i].Version, out[j].Version)
	})
	return out, nil
}

// Paths returns the file paths in order.
func Paths(files []File) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

// lessVersion compares as semantic versions when both parse and falls back
// to string order otherwise.
func lessVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		if c := va.Compare(vb); c != 0 {
			return c < 0
		}
	}
	return a < b
}
