// Package hooks maps test-runner lifecycle events onto the fixture
// orchestrator: the exercise start caches fixtures, and every test group
// (feature or scenario, depending on the configured lifetime) reloads them
// before it runs and flushes after.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/allyourbase/seedcache/internal/orchestrator"
)

// Lifetime selects which test group boundary reloads fixtures.
type Lifetime string

const (
	LifetimeFeature  Lifetime = "feature"
	LifetimeScenario Lifetime = "scenario"
)

// ErrInvalidLifetime is returned by ParseLifetime for unknown values.
var ErrInvalidLifetime = errors.New("invalid fixtures lifetime")

// ParseLifetime converts a configured lifetime name.
func ParseLifetime(s string) (Lifetime, error) {
	switch l := Lifetime(s); l {
	case LifetimeFeature, LifetimeScenario:
		return l, nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidLifetime, s, LifetimeFeature, LifetimeScenario)
}

// Fixtures is the part of the orchestrator the listener drives.
type Fixtures interface {
	CacheFixtures(ctx context.Context) error
	ReloadFixtures(ctx context.Context) (orchestrator.Outcome, error)
	Flush(ctx context.Context) error
}

var _ Fixtures = (*orchestrator.Orchestrator)(nil)

// Listener forwards lifecycle events to Fixtures. Group events for the
// lifetime that is not configured are ignored.
type Listener struct {
	fixtures Fixtures
	lifetime Lifetime
	logger   *slog.Logger
}

func NewListener(f Fixtures, lifetime Lifetime, logger *slog.Logger) *Listener {
	return &Listener{fixtures: f, lifetime: lifetime, logger: logger}
}

// Lifetime returns the configured group lifetime.
func (l *Listener) Lifetime() Lifetime { return l.lifetime }

// Handles reports whether events for group reach the orchestrator.
func (l *Listener) Handles(group Lifetime) bool { return group == l.lifetime }

// BeforeExercise resolves and fingerprints the fixture set once per run.
func (l *Listener) BeforeExercise(ctx context.Context) error {
	if err := l.fixtures.CacheFixtures(ctx); err != nil {
		return fmt.Errorf("caching fixtures: %w", err)
	}
	return nil
}

func (l *Listener) BeforeFeature(ctx context.Context) error {
	return l.before(ctx, LifetimeFeature)
}

func (l *Listener) AfterFeature(ctx context.Context) error {
	return l.after(ctx, LifetimeFeature)
}

func (l *Listener) BeforeScenario(ctx context.Context) error {
	return l.before(ctx, LifetimeScenario)
}

func (l *Listener) AfterScenario(ctx context.Context) error {
	return l.after(ctx, LifetimeScenario)
}

// Before runs the before-group event for group.
func (l *Listener) Before(ctx context.Context, group Lifetime) error {
	return l.before(ctx, group)
}

// After runs the after-group event for group.
func (l *Listener) After(ctx context.Context, group Lifetime) error {
	return l.after(ctx, group)
}

func (l *Listener) before(ctx context.Context, group Lifetime) error {
	if !l.Handles(group) {
		return nil
	}
	outcome, err := l.fixtures.ReloadFixtures(ctx)
	if err != nil {
		return fmt.Errorf("reloading fixtures before %s: %w", group, err)
	}
	l.logger.Debug("fixtures ready", "group", string(group), "outcome", string(outcome))
	return nil
}

func (l *Listener) after(ctx context.Context, group Lifetime) error {
	if !l.Handles(group) {
		return nil
	}
	if err := l.fixtures.Flush(ctx); err != nil {
		return fmt.Errorf("flushing fixtures after %s: %w", group, err)
	}
	return nil
}
