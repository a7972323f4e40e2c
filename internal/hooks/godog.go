package hooks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/allyourbase/seedcache/internal/orchestrator"
	"github.com/cucumber/godog"
)

// Godog binds a Listener to a godog test suite. Use InitializeTestSuite and
// InitializeScenario as the suite's initializers. Godog has no feature
// hooks, so feature boundaries are detected from each scenario's URI.
type Godog struct {
	listener    *Listener
	initializer *Initializer
	fixtures    *orchestrator.Orchestrator
	contexts    []any
	logger      *slog.Logger

	mu       sync.Mutex
	feature  string // URI of the open feature, "" when none
	suiteErr error
}

// NewGodog returns a binding for o. contexts that implement FixturesAware
// receive o before every scenario.
func NewGodog(o *orchestrator.Orchestrator, lifetime Lifetime, logger *slog.Logger, contexts ...any) *Godog {
	g := newGodog(o, lifetime, logger, contexts...)
	g.fixtures = o
	g.initializer = NewInitializer(o)
	return g
}

func newGodog(f Fixtures, lifetime Lifetime, logger *slog.Logger, contexts ...any) *Godog {
	return &Godog{
		listener: NewListener(f, lifetime, logger),
		contexts: contexts,
		logger:   logger,
	}
}

// Listener returns the underlying listener.
func (g *Godog) Listener() *Listener { return g.listener }

func (g *Godog) InitializeTestSuite(ctx *godog.TestSuiteContext) {
	ctx.BeforeSuite(g.beforeSuite)
	ctx.AfterSuite(g.afterSuite)
}

func (g *Godog) InitializeScenario(ctx *godog.ScenarioContext) {
	ctx.Before(g.beforeScenario)
	ctx.After(g.afterScenario)
}

// beforeSuite keeps the error for beforeScenario: godog suite hooks cannot
// fail, so every scenario reports it instead.
func (g *Godog) beforeSuite() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feature = ""
	g.suiteErr = g.listener.BeforeExercise(context.Background())
	if g.suiteErr != nil {
		g.logger.Error("fixture cache failed", "error", g.suiteErr)
	}
}

func (g *Godog) afterSuite() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.feature == "" || g.suiteErr != nil {
		return
	}
	g.feature = ""
	if err := g.listener.AfterFeature(context.Background()); err != nil {
		g.logger.Error("fixture flush failed", "error", err)
	}
}

func (g *Godog) beforeScenario(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suiteErr != nil {
		return ctx, g.suiteErr
	}

	if sc.Uri != g.feature {
		if g.feature != "" {
			if err := g.listener.AfterFeature(ctx); err != nil {
				return ctx, err
			}
		}
		g.feature = sc.Uri
		if err := g.listener.BeforeFeature(ctx); err != nil {
			return ctx, err
		}
	}
	if err := g.listener.BeforeScenario(ctx); err != nil {
		return ctx, err
	}

	if g.fixtures == nil {
		return ctx, nil
	}
	for _, c := range g.contexts {
		g.initializer.Initialize(c)
	}
	return WithFixtures(ctx, g.fixtures), nil
}

func (g *Godog) afterScenario(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suiteErr != nil {
		return ctx, nil
	}
	return ctx, g.listener.AfterScenario(ctx)
}
