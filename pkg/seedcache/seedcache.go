// Package seedcache caches database fixtures for BDD test suites. Fixtures
// are loaded once, snapshotted with the engine's native dump tool and
// restored before each feature or scenario. The snapshot is keyed by a
// fingerprint of the fixtures and migrations, so it is rebuilt only when
// they change.
//
// A godog suite wires it up with:
//
//	suite, err := seedcache.Open(ctx, "seedcache.toml", seedcache.WithContexts(steps))
//	...
//	godog.TestSuite{
//		TestSuiteInitializer: suite.InitializeTestSuite,
//		ScenarioInitializer:  suite.InitializeScenario,
//	}
package seedcache

import (
	"context"
	"log/slog"
	"os"

	"github.com/allyourbase/seedcache/internal/app"
	"github.com/allyourbase/seedcache/internal/config"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/hooks"
	"github.com/allyourbase/seedcache/internal/orchestrator"
	"github.com/allyourbase/seedcache/internal/refs"
	"github.com/cucumber/godog"
)

type (
	Unit         = fixtures.Unit
	Loader       = fixtures.Loader
	Func         = fixtures.Func
	Entity       = refs.Entity
	Config       = config.Config
	Orchestrator = orchestrator.Orchestrator
	Outcome      = orchestrator.Outcome
	Status       = orchestrator.Status
	Lifetime     = hooks.Lifetime

	// FixturesAware test contexts receive the orchestrator before every
	// scenario.
	FixturesAware = hooks.FixturesAware
)

const (
	OutcomeReloaded = orchestrator.OutcomeReloaded
	OutcomeRestored = orchestrator.OutcomeRestored
	OutcomeCreated  = orchestrator.OutcomeCreated

	LifetimeFeature  = hooks.LifetimeFeature
	LifetimeScenario = hooks.LifetimeScenario
)

// Register adds a Go fixture unit to the process-wide catalog. Call it from
// an init function in a file under a fixture directory.
func Register(u Unit) {
	fixtures.RegisterSkip(u, 1)
}

// FromContext returns the orchestrator injected into a scenario context.
func FromContext(ctx context.Context) (*Orchestrator, bool) {
	return hooks.FromContext(ctx)
}

// Option customizes Open.
type Option func(*options)

type options struct {
	cfg      *config.Config
	logger   *slog.Logger
	units    []Unit
	contexts []any
}

// WithConfig uses cfg instead of loading the config file.
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger replaces the logger built from the [logging] section.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithUnits adds units to the catalog without registering them globally.
func WithUnits(units ...Unit) Option {
	return func(o *options) { o.units = append(o.units, units...) }
}

// WithContexts names test contexts to inject the orchestrator into.
func WithContexts(contexts ...any) Option {
	return func(o *options) { o.contexts = append(o.contexts, contexts...) }
}

// Suite is an opened fixture cache bound to a godog suite.
type Suite struct {
	app   *app.App
	godog *hooks.Godog
}

// Open loads configPath ("" for seedcache.toml), connects to the database
// and prepares the orchestrator. Fixtures are not touched until the suite
// starts.
func Open(ctx context.Context, configPath string, opts ...Option) (*Suite, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if cfg, err = config.Load(configPath, nil); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = app.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	}

	lifetime, err := hooks.ParseLifetime(cfg.Fixtures.Lifetime)
	if err != nil {
		return nil, err
	}

	a, err := app.Open(ctx, cfg, logger, o.units...)
	if err != nil {
		return nil, err
	}
	return &Suite{
		app:   a,
		godog: hooks.NewGodog(a.Fixtures, lifetime, logger, o.contexts...),
	}, nil
}

// Fixtures returns the orchestrator.
func (s *Suite) Fixtures() *Orchestrator { return s.app.Fixtures }

// Reference returns an entity recorded by a fixture unit.
func (s *Suite) Reference(name string) (Entity, error) {
	return s.app.Fixtures.Reference(name)
}

// InitializeTestSuite is a godog TestSuiteInitializer.
func (s *Suite) InitializeTestSuite(ctx *godog.TestSuiteContext) {
	s.godog.InitializeTestSuite(ctx)
}

// InitializeScenario is a godog ScenarioInitializer. Step definitions can be
// added to ctx afterwards.
func (s *Suite) InitializeScenario(ctx *godog.ScenarioContext) {
	s.godog.InitializeScenario(ctx)
}

// Close releases the database connection and any embedded server.
func (s *Suite) Close() error {
	return s.app.Close()
}
