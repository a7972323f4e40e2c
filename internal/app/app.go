// Package app assembles a fixture orchestrator from configuration: database
// connection (optionally an embedded PostgreSQL), backup registry and
// mirror, fixture catalog and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/config"
	"github.com/allyourbase/seedcache/internal/database"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/metrics"
	"github.com/allyourbase/seedcache/internal/orchestrator"
	"github.com/allyourbase/seedcache/internal/pgmanager"
	"github.com/allyourbase/seedcache/internal/storage"
)

// ErrNoDatabase is returned when no database URL is configured and the
// embedded server is disabled.
var ErrNoDatabase = errors.New("no database URL configured (set database.url in seedcache.toml, SEEDCACHE_DATABASE_URL, or --database-url; or database.embedded = true)")

// App is a wired orchestrator and everything it owns.
type App struct {
	Config   *config.Config
	Conn     database.Conn
	Registry *backup.Registry
	Fixtures *orchestrator.Orchestrator
	Metrics  *metrics.Metrics

	pg     *pgmanager.Manager
	logger *slog.Logger
}

// Open connects to the configured database and builds the orchestrator.
// The catalog holds every unit passed to fixtures.Register plus extra.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...fixtures.Unit) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	url, err := a.databaseURL(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := database.Open(ctx, database.Options{
		Engine:      cfg.Database.Engine,
		URL:         url,
		SchemaFiles: cfg.ResolveAll(cfg.Database.SchemaFiles),
	}, logger)
	if err != nil {
		a.stopEmbedded()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Conn = conn

	a.Registry = OpenRegistry(cfg, logger)

	resolver, err := newResolver(logger, extra)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Metrics = metrics.New()
	options := []orchestrator.Option{orchestrator.WithObserver(a.Metrics)}

	backend, err := MirrorBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if backend != nil {
		options = append(options, orchestrator.WithMirror(backup.NewMirror(a.Registry, backend, logger)))
		logger.Info("backup mirror enabled", "backend", cfg.Backup.Mirror.Backend)
	}

	a.Fixtures = orchestrator.New(conn, a.Registry, resolver, fixtureOptions(cfg), logger, options...)

	return a, nil
}

// Plan resolves and fingerprints the configured fixtures without
// connecting to the database.
func Plan(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...fixtures.Unit) (*orchestrator.Plan, error) {
	resolver, err := newResolver(logger, extra)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewPlan(ctx, resolver, fixtureOptions(cfg), cfg.Database.Engine)
}

func newResolver(logger *slog.Logger, extra []fixtures.Unit) (*fixtures.Resolver, error) {
	units := append(fixtures.Registered(), extra...)
	catalog, err := fixtures.NewCatalog(units...)
	if err != nil {
		return nil, fmt.Errorf("building fixture catalog: %w", err)
	}
	return fixtures.NewResolver(catalog, logger), nil
}

// fixtureOptions maps the [fixtures] section, with paths resolved against
// the config directory.
func fixtureOptions(cfg *config.Config) orchestrator.Options {
	var discover fixtures.DiscoverFunc
	if cfg.Fixtures.Autoload {
		discover = fixtures.ModuleDiscovery(cfg.Dir(), cfg.Fixtures.ModuleRoots, cfg.Fixtures.ModuleSubdir)
	}
	return orchestrator.Options{
		UseBackup:   cfg.Fixtures.UseBackup,
		Autoload:    cfg.Fixtures.Autoload,
		Discover:    discover,
		Directories: cfg.ResolveAll(cfg.Fixtures.Directories),
		Units:       cfg.Fixtures.Fixtures,
		Migrations:  cfg.ResolveAll(cfg.Fixtures.Migrations),
		SchemaFiles: cfg.ResolveAll(cfg.Database.SchemaFiles),
	}
}

// databaseURL returns the URL to connect to, starting the embedded server
// when configured and no URL is set.
func (a *App) databaseURL(ctx context.Context) (string, error) {
	cfg := a.Config
	url := cfg.Database.URL
	if url != "" {
		if cfg.Database.Engine == database.EngineSQLite {
			url = cfg.Resolve(url)
		}
		return url, nil
	}
	if !cfg.Database.Embedded {
		return "", ErrNoDatabase
	}

	a.logger.Info("no database URL configured, starting embedded PostgreSQL")
	a.pg = pgmanager.New(pgmanager.Config{
		Port:    uint32(cfg.Database.EmbeddedPort),
		Root:    filepath.Join(cfg.Resolve(cfg.Backup.CacheDir), "postgres"),
		DataDir: cfg.Resolve(cfg.Database.EmbeddedDataDir),
		Logger:  a.logger,
	})
	url, err := a.pg.Start(ctx)
	if err != nil {
		a.pg = nil
		return "", err
	}
	return url, nil
}

// OpenRegistry returns the backup registry for cfg without touching the
// database.
func OpenRegistry(cfg *config.Config, logger *slog.Logger) *backup.Registry {
	r := backup.NewDefaultRegistry(cfg.Resolve(cfg.Backup.CacheDir), backup.Binaries{
		PgDump:    cfg.Backup.PgDumpBin,
		PgRestore: cfg.Backup.PgRestoreBin,
		MySQLDump: cfg.Backup.MySQLDumpBin,
		MySQL:     cfg.Backup.MySQLBin,
	}, logger)
	r.SetLocking(cfg.Backup.Lock)
	return r
}

// MirrorBackend returns the configured mirror storage, or nil when
// mirroring is disabled.
func MirrorBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	m := cfg.Backup.Mirror
	switch m.Backend {
	case "":
		return nil, nil
	case "local":
		b, err := storage.NewLocalBackend(cfg.Resolve(m.LocalPath))
		if err != nil {
			return nil, fmt.Errorf("initializing local mirror: %w", err)
		}
		return b, nil
	case "s3":
		b, err := storage.NewS3Backend(ctx, storage.S3Config{
			Endpoint:  m.S3Endpoint,
			Bucket:    m.S3Bucket,
			Region:    m.S3Region,
			AccessKey: m.S3AccessKey,
			SecretKey: m.S3SecretKey,
			UseSSL:    m.S3UseSSL,
			Prefix:    m.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing S3 mirror: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown mirror backend %q", m.Backend)
}

// Close releases the connection and stops the embedded server.
func (a *App) Close() error {
	var errs []error
	if a.Conn != nil {
		if err := a.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if err := a.stopEmbedded(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) stopEmbedded() error {
	if a.pg == nil {
		return nil
	}
	err := a.pg.Stop()
	a.pg = nil
	return err
}
