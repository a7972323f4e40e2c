// Package orchestrator decides, per test group, whether fixtures are loaded
// from scratch, restored from a binary backup, or loaded once and then
// snapshotted for later groups and runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/database"
	"github.com/allyourbase/seedcache/internal/fingerprint"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/migrations"
	"github.com/allyourbase/seedcache/internal/refs"
)

// ErrNotCached is returned by ReloadFixtures before CacheFixtures succeeded.
var ErrNotCached = errors.New("fixtures not cached: CacheFixtures must run first")

// State is the orchestrator's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateCached
	StateLoaded
	StateRestored
	StateFlushed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCached:
		return "cached"
	case StateLoaded:
		return "loaded"
	case StateRestored:
		return "restored"
	case StateFlushed:
		return "flushed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome says how ReloadFixtures produced the database state.
type Outcome string

const (
	// OutcomeReloaded: backups disabled, units executed.
	OutcomeReloaded Outcome = "reloaded"
	// OutcomeRestored: an existing backup was restored.
	OutcomeRestored Outcome = "restored"
	// OutcomeCreated: units executed and a new backup written.
	OutcomeCreated Outcome = "created"
)

// TruncateListener is notified around the table purge that precedes a load.
type TruncateListener interface {
	PreTruncate(ctx context.Context, conn database.Conn) error
	PostTruncate(ctx context.Context, conn database.Conn) error
}

// Observer receives the result of every successful ReloadFixtures.
type Observer interface {
	ObserveReload(outcome Outcome, d time.Duration)
}

// Options selects the fixtures and the caching behavior.
type Options struct {
	UseBackup   bool
	Autoload    bool
	Discover    fixtures.DiscoverFunc
	Directories []string
	Units       []string
	// Migrations lists migration files or directories.
	Migrations []string
	// SchemaFiles are fingerprinted ahead of the migrations.
	SchemaFiles []string
}

// Orchestrator drives fixture loading for one database.
type Orchestrator struct {
	conn      database.Conn
	registry  *backup.Registry
	resolver  *fixtures.Resolver
	opts      Options
	mirror    *backup.Mirror
	listeners []TruncateListener
	observer  Observer
	logger    *slog.Logger

	state   State
	session *session
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMirror pulls missing backups from m and pushes new ones to it.
func WithMirror(m *backup.Mirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

// WithTruncateListener adds l to the listeners fired around purges.
func WithTruncateListener(l TruncateListener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l) }
}

// WithObserver reports reload outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an orchestrator. A database.PlatformListener is always
// registered first.
func New(conn database.Conn, registry *backup.Registry, resolver *fixtures.Resolver, opts Options, logger *slog.Logger, options ...Option) *Orchestrator {
	o := &Orchestrator{
		conn:      conn,
		registry:  registry,
		resolver:  resolver,
		opts:      opts,
		listeners: []TruncateListener{database.PlatformListener{}},
		logger:    logger,
		session:   newSession(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// CacheFixtures resolves the fixture set and its fingerprint. With backups
// enabled and no backup present for the fingerprint, the schema is dropped
// right away.
func (o *Orchestrator) CacheFixtures(ctx context.Context) error {
	o.session = newSession()
	o.state = StateUninitialized

	plan, err := NewPlan(ctx, o.resolver, o.opts, o.conn.Engine())
	if err != nil {
		return err
	}
	set, files, fp := plan.Set, plan.Migrations, plan.Fingerprint

	o.session.set = set
	o.session.migrations = files
	o.session.fingerprint = fp

	if o.opts.UseBackup {
		if o.mirror != nil {
			if _, err := o.mirror.Pull(ctx, fp.String()); err != nil {
				return fmt.Errorf("pulling backup from mirror: %w", err)
			}
		}
		if !o.registry.Exists(fp.String()) {
			if err := o.conn.DropSchema(ctx); err != nil {
				return err
			}
		}
	}

	o.state = StateCached
	o.logger.Info("fixtures cached",
		"fingerprint", fp.Short(),
		"units", set.Len(),
		"migrations", len(files),
		"backup", o.opts.UseBackup && o.registry.Exists(fp.String()),
	)
	return nil
}

// ReloadFixtures brings the database to the pristine fixture state.
func (o *Orchestrator) ReloadFixtures(ctx context.Context) (Outcome, error) {
	if o.state == StateUninitialized {
		return "", ErrNotCached
	}
	start := time.Now()
	fp := o.session.fingerprint.String()

	var outcome Outcome
	switch {
	case !o.opts.UseBackup:
		if err := o.rebuild(ctx); err != nil {
			return "", err
		}
		outcome = OutcomeReloaded
	case o.registry.Exists(fp):
		if err := o.restore(ctx); err != nil {
			return "", err
		}
		outcome = OutcomeRestored
	default:
		var err error
		outcome, err = o.createOrRestore(ctx)
		if err != nil {
			return "", err
		}
	}

	if outcome == OutcomeRestored {
		o.state = StateRestored
	} else {
		o.state = StateLoaded
	}

	d := time.Since(start)
	if o.observer != nil {
		o.observer.ObserveReload(outcome, d)
	}
	o.logger.Info("fixtures reloaded", "outcome", string(outcome), "fingerprint", o.session.fingerprint.Short(), "duration", d)
	return outcome, nil
}

// createOrRestore runs under the backup lock: another process may have
// produced the backup while this one waited.
func (o *Orchestrator) createOrRestore(ctx context.Context) (Outcome, error) {
	fp := o.session.fingerprint.String()
	unlock, err := o.registry.Lock(ctx, fp)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := unlock(); err != nil {
			o.logger.Warn("releasing backup lock", "error", err)
		}
	}()

	if o.registry.Exists(fp) {
		if err := o.restore(ctx); err != nil {
			return "", err
		}
		return OutcomeRestored, nil
	}

	if err := o.rebuild(ctx); err != nil {
		return "", err
	}
	// Readers check only the backup file, so the snapshot must exist first.
	refsPath := o.registry.RefsPath(fp)
	if err := o.session.repository().Save(refsPath); err != nil {
		return "", fmt.Errorf("saving references: %w", err)
	}
	if err := o.suspended(ctx, func() error {
		return o.registry.Create(ctx, o.conn, fp)
	}); err != nil {
		_ = os.Remove(refsPath)
		return "", err
	}

	if o.mirror != nil {
		if err := o.mirror.Push(ctx, fp); err != nil {
			o.logger.Warn("pushing backup to mirror failed", "fingerprint", o.session.fingerprint.Short(), "error", err)
		}
	}
	return OutcomeCreated, nil
}

// rebuild drops and recreates the schema, then loads the fixture set.
func (o *Orchestrator) rebuild(ctx context.Context) error {
	if err := o.conn.DropSchema(ctx); err != nil {
		return err
	}
	if err := o.conn.CreateSchema(ctx); err != nil {
		return err
	}
	return o.load(ctx)
}

func (o *Orchestrator) restore(ctx context.Context) error {
	fp := o.session.fingerprint.String()
	if err := o.suspended(ctx, func() error {
		return o.registry.Restore(ctx, o.conn, fp)
	}); err != nil {
		return err
	}
	repo, err := refs.Load(o.registry.RefsPath(fp))
	if err != nil {
		return fmt.Errorf("loading references: %w", err)
	}
	o.session.refs = repo
	return nil
}

// suspended runs fn with the connection's file handle released when the
// connection supports it.
func (o *Orchestrator) suspended(ctx context.Context, fn func() error) error {
	s, ok := o.conn.(database.Suspender)
	if !ok {
		return fn()
	}
	if err := s.Suspend(); err != nil {
		return fmt.Errorf("suspending connection: %w", err)
	}
	fnErr := fn()
	if err := s.Resume(ctx); err != nil {
		return errors.Join(fnErr, fmt.Errorf("resuming connection: %w", err))
	}
	return fnErr
}

// load purges the tables the set writes to, replays migrations and executes
// every unit in order.
func (o *Orchestrator) load(ctx context.Context) error {
	o.session.reset()

	if err := o.purge(ctx); err != nil {
		return err
	}

	if len(o.session.migrations) > 0 {
		if _, err := migrations.NewRunner(o.conn, o.logger).Run(ctx, o.session.migrations); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	repo := o.session.repository()
	for _, u := range o.session.set.Units() {
		if err := o.execute(ctx, u, repo); err != nil {
			return err
		}
	}
	o.logger.Info("fixtures loaded", "units", o.session.set.Len(), "references", repo.Len())
	return nil
}

func (o *Orchestrator) purge(ctx context.Context) error {
	for _, l := range o.listeners {
		if err := l.PreTruncate(ctx, o.conn); err != nil {
			return fmt.Errorf("before purge: %w", err)
		}
	}
	purgeErr := o.conn.Purge(ctx, o.session.set.Tables())
	for _, l := range o.listeners {
		if err := l.PostTruncate(ctx, o.conn); err != nil {
			return errors.Join(purgeErr, fmt.Errorf("after purge: %w", err))
		}
	}
	if purgeErr != nil {
		return fmt.Errorf("purging tables: %w", purgeErr)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, u fixtures.Unit, repo *refs.Repository) error {
	tx, err := o.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("loading %s: %w", u.Name(), err)
	}
	if err := u.Load(ctx, &unitLoader{tx: tx, refs: repo}); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("loading %s: %w", u.Name(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing %s: %w", u.Name(), err)
	}
	o.logger.Debug("fixture loaded", "unit", u.Name())
	return nil
}

// Flush clears connection caches and the reference repository after a test
// group. Units commit as they run, so nothing is pending here.
func (o *Orchestrator) Flush(ctx context.Context) error {
	if err := o.conn.ClearCache(ctx); err != nil {
		return fmt.Errorf("clearing connection cache: %w", err)
	}
	o.session.reset()
	if o.state != StateUninitialized {
		o.state = StateFlushed
	}
	return nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// Fingerprint returns the fingerprint computed by CacheFixtures.
func (o *Orchestrator) Fingerprint() fingerprint.Fingerprint { return o.session.fingerprint }

// Units returns the resolved unit names in load order.
func (o *Orchestrator) Units() []string { return o.session.set.Names() }

// Conn returns the database connection.
func (o *Orchestrator) Conn() database.Conn { return o.conn }

// References returns the reference repository of the current group.
func (o *Orchestrator) References() *refs.Repository { return o.session.repository() }

// Reference returns the entity recorded under name.
func (o *Orchestrator) Reference(name string) (refs.Entity, error) {
	return o.session.repository().Get(name)
}

// Status summarizes the orchestrator for diagnostics.
type Status struct {
	State        string   `json:"state"`
	Fingerprint  string   `json:"fingerprint,omitempty"`
	Engine       string   `json:"engine"`
	UseBackup    bool     `json:"useBackup"`
	BackupPath   string   `json:"backupPath,omitempty"`
	BackupExists bool     `json:"backupExists"`
	Units        []string `json:"units"`
	Migrations   []string `json:"migrations"`
	References   []string `json:"references"`
}

// Status reports the current state.
func (o *Orchestrator) Status() Status {
	st := Status{
		State:      o.state.String(),
		Engine:     o.conn.Engine(),
		UseBackup:  o.opts.UseBackup,
		Units:      o.session.set.Names(),
		Migrations: migrations.Paths(o.session.migrations),
		References: o.session.repository().Names(),
	}
	if fp := o.session.fingerprint.String(); fp != "" {
		st.Fingerprint = fp
		st.BackupPath = o.registry.FilePath(fp)
		st.BackupExists = o.registry.Exists(fp)
	}
	return st
}

var _ fixtures.Loader = (*unitLoader)(nil)

// unitLoader is the fixtures.Loader handed to each unit.
type unitLoader struct {
	tx   database.Tx
	refs *refs.Repository
}

func (l *unitLoader) Exec(ctx context.Context, query string, args ...any) error {
	return l.tx.Exec(ctx, query, args...)
}

func (l *unitLoader) Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error) {
	return l.tx.Insert(ctx, table, key, values)
}

func (l *unitLoader) AddReference(name string, e refs.Entity) error { return l.refs.Add(name, e) }
func (l *unitLoader) SetReference(name string, e refs.Entity)       { l.refs.Set(name, e) }
func (l *unitLoader) Reference(name string) (refs.Entity, error)    { return l.refs.Get(name) }
func (l *unitLoader) HasReference(name string) bool                 { return l.refs.Has(name) }
