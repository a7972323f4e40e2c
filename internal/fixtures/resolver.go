package fixtures

import (
	"context"
	"fmt"
	"log/slog"
)

// DiscoverFunc lists fixture directories found by module discovery.
type DiscoverFunc func() ([]string, error)

// Request describes which units an exercise needs.
type Request struct {
	Autoload    bool
	Discover    DiscoverFunc // consulted only when Autoload is set
	Directories []string
	Units       []string
}

// Resolver builds fixture sets from a catalog.
type Resolver struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewResolver returns a resolver over catalog.
func NewResolver(catalog *Catalog, logger *slog.Logger) *Resolver {
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve collects units from discovered directories, then explicit
// directories, then explicit unit names. Every unit is preceded by its
// dependencies, so the result is a valid load order.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Set, error) {
	var dirs []string
	if req.Autoload && req.Discover != nil {
		found, err := req.Discover()
		if err != nil {
			return nil, fmt.Errorf("discovering fixture directories: %w", err)
		}
		dirs = append(dirs, found...)
	}
	dirs = append(dirs, req.Directories...)

	w := &walker{
		catalog:    r.catalog,
		set:        NewSet(),
		inProgress: make(map[string]bool),
	}

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		units, err := r.catalog.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("fixture directory loaded", "dir", dir, "units", len(units))
		for _, u := range units {
			if err := w.visit(u); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range req.Units {
		if w.set.Contains(name) {
			continue
		}
		u, ok := r.catalog.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
		}
		if err := w.visit(u); err != nil {
			return nil, err
		}
	}

	r.logger.Info("fixtures resolved", "units", w.set.Len(), "tables", len(w.set.Tables()))
	return w.set, nil
}

// walker performs the depth-first dependency walk. inProgress holds the
// units on the current path; meeting one of them again is a cycle, while
// meeting a unit already in the set is an ordinary revisit.
type walker struct {
	catalog    *Catalog
	set        *Set
	inProgress map[string]bool
	path       []string
}

func (w *walker) visit(u Unit) error {
	name := u.Name()
	if w.set.Contains(name) {
		return nil
	}
	if w.inProgress[name] {
		return &CycleError{Path: w.cyclePath(name)}
	}

	w.inProgress[name] = true
	w.path = append(w.path, name)

	for _, dep := range DependenciesOf(u) {
		du, ok := w.catalog.Lookup(dep)
		if !ok {
			return fmt.Errorf("%w: %q (required by %q)", ErrUnknownUnit, dep, name)
		}
		if err := w.visit(du); err != nil {
			return err
		}
	}

	w.path = w.path[:len(w.path)-1]
	delete(w.inProgress, name)
	w.set.Add(u)
	return nil
}

func (w *walker) cyclePath(name string) []string {
	for i, n := range w.path {
		if n == name {
			cycle := append([]string(nil), w.path[i:]...)
			return append(cycle, name)
		}
	}
	return []string{name, name}
}
