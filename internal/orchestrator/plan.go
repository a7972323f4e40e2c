package orchestrator

import (
	"context"
	"fmt"

	"github.com/allyourbase/seedcache/internal/fingerprint"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/migrations"
)

// Plan is the resolved fixture set of an exercise and its fingerprint.
type Plan struct {
	Set         *fixtures.Set
	Migrations  []migrations.File
	Fingerprint fingerprint.Fingerprint
}

// NewPlan resolves opts against resolver and fingerprints the result. It
// does not touch any database; engine only selects migration
// subdirectories.
func NewPlan(ctx context.Context, resolver *fixtures.Resolver, opts Options, engine string) (*Plan, error) {
	files, err := migrations.Discover(opts.Migrations, engine)
	if err != nil {
		return nil, fmt.Errorf("discovering migrations: %w", err)
	}

	set, err := resolver.Resolve(ctx, fixtures.Request{
		Autoload:    opts.Autoload,
		Discover:    opts.Discover,
		Directories: opts.Directories,
		Units:       opts.Units,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving fixtures: %w", err)
	}

	fingerprinted := append(append([]string(nil), opts.SchemaFiles...), migrations.Paths(files)...)
	fp, err := fingerprint.Compute(set.Units(), fingerprinted)
	if err != nil {
		return nil, fmt.Errorf("computing fingerprint: %w", err)
	}
	return &Plan{Set: set, Migrations: files, Fingerprint: fp}, nil
}
