// Package refs holds named references to rows inserted by fixture units so
// later units and test steps can look them up. The repository can be saved
// next to a backup and loaded again after a restore.
package refs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("reference not found")
	ErrDuplicate = errors.New("reference already exists")
)

// Entity is an inserted row: column name to value, including any generated key.
type Entity map[string]any

// Repository maps reference names to entities. It is not safe for concurrent
// use; the orchestrator drives it from a single goroutine.
type Repository struct {
	entries map[string]Entity
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{entries: make(map[string]Entity)}
}

// Add stores e under name and fails if name is already taken.
func (r *Repository) Add(name string, e Entity) error {
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.entries[name] = e
	return nil
}

// Set stores e under name, replacing any previous entity.
func (r *Repository) Set(name string, e Entity) {
	r.entries[name] = e
}

// Get returns the entity stored under name.
func (r *Repository) Get(name string) (Entity, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, nil
}

// Has reports whether name is set.
func (r *Repository) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns the reference names in sorted order.
func (r *Repository) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of references.
func (r *Repository) Len() int { return len(r.entries) }

// Save writes the repository as JSON to path, replacing any existing file.
func (r *Repository) Save(path string) error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding references: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing references: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing references: %w", err)
	}
	return nil
}

// Load reads a repository saved with Save. A missing file yields an empty
// repository, matching a backup taken before any reference was recorded.
// Integral JSON numbers decode as int64.
func Load(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading references: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding references %s: %w", path, err)
	}

	r := New()
	for name, row := range raw {
		e := make(Entity, len(row))
		for col, v := range row {
			e[col] = normalize(v)
		}
		r.entries[name] = e
	}
	return r, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	default:
		return v
	}
}
