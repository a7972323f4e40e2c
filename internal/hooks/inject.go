package hooks

import (
	"context"

	"github.com/allyourbase/seedcache/internal/orchestrator"
)

// FixturesAware is implemented by test contexts that want the orchestrator,
// typically to look up references recorded by fixture units.
type FixturesAware interface {
	SetFixtures(o *orchestrator.Orchestrator)
}

// Initializer hands the orchestrator to FixturesAware test contexts.
type Initializer struct {
	fixtures *orchestrator.Orchestrator
}

func NewInitializer(o *orchestrator.Orchestrator) *Initializer {
	return &Initializer{fixtures: o}
}

// Supports reports whether c accepts the orchestrator.
func (i *Initializer) Supports(c any) bool {
	_, ok := c.(FixturesAware)
	return ok
}

// Initialize injects the orchestrator into c when c is FixturesAware and
// reports whether it did.
func (i *Initializer) Initialize(c any) bool {
	fa, ok := c.(FixturesAware)
	if !ok {
		return false
	}
	fa.SetFixtures(i.fixtures)
	return true
}

type ctxKey struct{}

// WithFixtures returns a copy of ctx carrying o.
func WithFixtures(ctx context.Context, o *orchestrator.Orchestrator) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// FromContext returns the orchestrator stored by WithFixtures.
func FromContext(ctx context.Context) (*orchestrator.Orchestrator, bool) {
	o, ok := ctx.Value(ctxKey{}).(*orchestrator.Orchestrator)
	return o, ok && o != nil
}
