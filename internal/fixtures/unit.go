// Package fixtures models seed-insertion units and resolves them into an
// ordered, deduplicated set that satisfies every declared dependency.
//
// Units come from Go code (Register) or from fixture files (*.toml data
// files and *.sql scripts) found in fixture directories.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/allyourbase/seedcache/internal/refs"
)

// Sentinel errors.
var (
	ErrUnknownUnit     = errors.New("unknown fixture unit")
	ErrDuplicateUnit   = errors.New("duplicate fixture unit")
	ErrDependencyCycle = errors.New("fixture dependency cycle")
)

// Unit inserts one coherent piece of seed data.
type Unit interface {
	// Name is the unit's stable identity. Dependencies refer to it.
	Name() string
	Load(ctx context.Context, l Loader) error
}

// Dependent is implemented by units that must run after other units.
type Dependent interface {
	Dependencies() []string
}

// Sourced is implemented by units backed by a file whose modification time
// should invalidate cached backups. An empty Source means none.
type Sourced interface {
	Source() string
}

// TableAware is implemented by units that declare the tables they populate.
// Those tables are purged before the set is loaded.
type TableAware interface {
	Tables() []string
}

// Loader is what a unit sees while it runs. Writes go through the unit's
// transaction; references persist across units and into backups.
type Loader interface {
	Exec(ctx context.Context, query string, args ...any) error
	// Insert writes one row into table and returns it with the generated
	// value of key filled in. An empty key skips key retrieval.
	Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error)

	AddReference(name string, e refs.Entity) error
	SetReference(name string, e refs.Entity)
	Reference(name string) (refs.Entity, error)
	HasReference(name string) bool
}

// CycleError reports a dependency cycle. Path starts and ends with the same
// unit name.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("fixture dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// DependenciesOf returns u's declared dependencies, or nil.
func DependenciesOf(u Unit) []string {
	if d, ok := u.(Dependent); ok {
		return d.Dependencies()
	}
	return nil
}

// SourceOf returns u's source file, or "".
func SourceOf(u Unit) string {
	if s, ok := u.(Sourced); ok {
		return s.Source()
	}
	return ""
}

// TablesOf returns the tables u declares, or nil.
func TablesOf(u Unit) []string {
	if ta, ok := u.(TableAware); ok {
		return ta.Tables()
	}
	return nil
}
