package fixtures

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// Catalog indexes every known unit by name: Go units handed to NewCatalog
// and file units parsed from scanned directories.
type Catalog struct {
	units map[string]Unit
	goSrc []Unit
	dirs  map[string][]Unit
}

// NewCatalog returns a catalog holding units, typically Registered().
func NewCatalog(units ...Unit) (*Catalog, error) {
	c := &Catalog{
		units: make(map[string]Unit),
		dirs:  make(map[string][]Unit),
	}
	for _, u := range units {
		if err := c.Add(u); err != nil {
			return nil, err
		}
		c.goSrc = append(c.goSrc, u)
	}
	return c, nil
}

// Add indexes u. Adding the same unit twice is a no-op; a different unit
// with a taken name is an ErrDuplicateUnit.
func (c *Catalog) Add(u Unit) error {
	name := u.Name()
	if name == "" {
		return fmt.Errorf("fixture unit of type %T has an empty name", u)
	}
	if existing, ok := c.units[name]; ok {
		if sameUnit(existing, u) {
			return nil
		}
		return fmt.Errorf("%w: %q defined by %s and %s", ErrDuplicateUnit, name, describe(existing), describe(u))
	}
	c.units[name] = u
	return nil
}

// Lookup returns the unit registered under name.
func (c *Catalog) Lookup(name string) (Unit, bool) {
	u, ok := c.units[name]
	return u, ok
}

// Len returns the number of indexed units.
func (c *Catalog) Len() int { return len(c.units) }

// LoadDir returns the units found in dir: *.toml and *.sql fixture files plus
// Go units whose source file lives in dir, ordered by file name. Each file
// unit is indexed. Scanning the same directory again returns the cached list.
func (c *Catalog) LoadDir(dir string) ([]Unit, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving fixture directory: %w", err)
	}
	if units, ok := c.dirs[abs]; ok {
		return units, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("fixture directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("reading fixture directory: %w", err)
	}

	type entry struct {
		file string
		unit Unit
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(abs, e.Name())
		var u Unit
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".toml":
			u, err = ParseDataFile(path)
		case ".sql":
			u, err = ParseSQLFile(path)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := c.Add(u); err != nil {
			return nil, err
		}
		found = append(found, entry{file: e.Name(), unit: u})
	}
	for _, u := range c.goSrc {
		src := SourceOf(u)
		if src != "" && filepath.Dir(src) == abs {
			found = append(found, entry{file: filepath.Base(src), unit: u})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].file != found[j].file {
			return found[i].file < found[j].file
		}
		return found[i].unit.Name() < found[j].unit.Name()
	})
	units := make([]Unit, len(found))
	for i, f := range found {
		units[i] = f.unit
	}
	c.dirs[abs] = units
	return units, nil
}

func sameUnit(a, b Unit) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}

func describe(u Unit) string {
	if src := SourceOf(u); src != "" {
		return src
	}
	return fmt.Sprintf("%T", u)
}
