package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ModuleDiscovery returns a DiscoverFunc that expands each root pattern
// (doublestar syntax, relative to base) and keeps <match>/<subdir> when it
// is an existing directory. Results follow pattern order, then lexical
// order within a pattern, without duplicates.
func ModuleDiscovery(base string, roots []string, subdir string) DiscoverFunc {
	return func() ([]string, error) {
		absBase, err := filepath.Abs(base)
		if err != nil {
			return nil, fmt.Errorf("resolving module base: %w", err)
		}
		fsys := os.DirFS(absBase)

		seen := make(map[string]bool)
		var dirs []string
		for _, pattern := range roots {
			var matches []string
			if pattern == "" || pattern == "." {
				matches = []string{"."}
			} else {
				if !doublestar.ValidatePattern(pattern) {
					return nil, fmt.Errorf("invalid module root pattern %q", pattern)
				}
				matches, err = doublestar.Glob(fsys, filepath.ToSlash(pattern))
				if err != nil {
					return nil, fmt.Errorf("expanding module root %q: %w", pattern, err)
				}
				sort.Strings(matches)
			}

			for _, m := range matches {
				candidate := filepath.Join(absBase, filepath.FromSlash(m), subdir)
				if seen[candidate] {
					continue
				}
				info, err := os.Stat(candidate)
				if err != nil || !info.IsDir() {
					continue
				}
				seen[candidate] = true
				dirs = append(dirs, candidate)
			}
		}
		return dirs, nil
	}
}
