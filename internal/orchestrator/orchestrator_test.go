package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/database"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/storage"
	"github.com/allyourbase/seedcache/internal/testutil"
)

const productSchema = `
CREATE TABLE products (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, price INTEGER NOT NULL);
`

// countingStrategy wraps FileCopy and counts calls. afterCreate runs once
// the backup file is in place.
type countingStrategy struct {
	backup.FileCopy
	creates     int
	restores    int
	afterCreate func()
}

func (c *countingStrategy) Create(ctx context.Context, database, file string, p backup.Params) error {
	c.creates++
	if err := c.FileCopy.Create(ctx, database, file, p); err != nil {
		return err
	}
	if c.afterCreate != nil {
		c.afterCreate()
	}
	return nil
}

func (c *countingStrategy) Restore(ctx context.Context, database, file string, p backup.Params) error {
	c.restores++
	return c.FileCopy.Restore(ctx, database, file, p)
}

type recordingObserver struct {
	outcomes []Outcome
}

func (r *recordingObserver) ObserveReload(o Outcome, _ time.Duration) {
	r.outcomes = append(r.outcomes, o)
}

// env is one simulated test process sharing a database file and cache dir.
type env struct {
	dir      string
	conn     *database.SQLite
	strategy *countingStrategy
	registry *backup.Registry
	orch     *Orchestrator
	observer *recordingObserver
}

type envConfig struct {
	dbFile    string // defaults to shop.db
	useBackup bool
	units     []fixtures.Unit
	request   []string
	options   []Option
}

func newEnv(t *testing.T, dir string, cfg envConfig) *env {
	t.Helper()
	ctx := context.Background()
	schema := filepath.Join(dir, "schema.sql")
	if !testutil.FileExists(schema) {
		testutil.WriteFile(t, dir, "schema.sql", productSchema)
	}

	dbFile := cfg.dbFile
	if dbFile == "" {
		dbFile = "shop.db"
	}
	conn, err := database.NewSQLite(ctx, filepath.Join(dir, dbFile), []string{schema}, testutil.DiscardLogger())
	testutil.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	strategy := &countingStrategy{}
	registry := backup.NewRegistry(filepath.Join(dir, "cache"), testutil.DiscardLogger())
	registry.Register(strategy)

	catalog, err := fixtures.NewCatalog(cfg.units...)
	testutil.NoError(t, err)

	obs := &recordingObserver{}
	opts := append([]Option{WithObserver(obs)}, cfg.options...)
	orch := New(conn, registry, fixtures.NewResolver(catalog, testutil.DiscardLogger()), Options{
		UseBackup:   cfg.useBackup,
		Units:       cfg.request,
		SchemaFiles: []string{schema},
	}, testutil.DiscardLogger(), opts...)

	return &env{dir: dir, conn: conn, strategy: strategy, registry: registry, orch: orch, observer: obs}
}

func productCount(t *testing.T, conn *database.SQLite) int {
	t.Helper()
	var n int
	testutil.NoError(t, conn.DB().QueryRow("SELECT COUNT(*) FROM products").Scan(&n))
	return n
}

func TestReloadBeforeCache(t *testing.T) {
	e := newEnv(t, t.TempDir(), envConfig{useBackup: true})
	_, err := e.orch.ReloadFixtures(context.Background())
	testutil.ErrorIs(t, err, ErrNotCached)
	testutil.Equal(t, e.orch.State(), StateUninitialized)
}

func TestProductLoaderScenarioLifetime(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	e := newEnv(t, dir, envConfig{
		useBackup: true,
		units:     []fixtures.Unit{productUnit(dir, &runs)},
		request:   []string{"ProductLoader"},
	})
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	testutil.Equal(t, e.orch.State(), StateCached)
	testutil.SliceEqual(t, e.orch.Units(), []string{"ProductLoader"})
	fp := e.orch.Fingerprint().String()
	testutil.False(t, e.registry.Exists(fp), "cache directory starts empty")

	// First scenario: no backup, so load and snapshot.
	outcome, err := e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, outcome, OutcomeCreated)
	testutil.Equal(t, e.orch.State(), StateLoaded)
	testutil.True(t, testutil.FileExists(filepath.Join(dir, "cache", "test_"+fp)), "backup file should exist")
	testutil.True(t, testutil.FileExists(e.registry.RefsPath(fp)), "refs snapshot should exist")
	testutil.Equal(t, runs, 1)
	testutil.Equal(t, e.strategy.creates, 1)

	widget, err := e.orch.Reference("widget")
	testutil.NoError(t, err)
	testutil.Equal(t, widget["id"], any(int64(1)))

	// The scenario mutates data.
	testutil.NoError(t, e.conn.Exec(ctx, "INSERT INTO products (name, price) VALUES ('Gadget', 1)"))
	testutil.Equal(t, productCount(t, e.conn), 2)

	testutil.NoError(t, e.orch.Flush(ctx))
	testutil.Equal(t, e.orch.State(), StateFlushed)
	testutil.False(t, e.orch.References().Has("widget"), "flush clears references")

	// Second scenario: restored from the backup without running the loader.
	outcome, err = e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, outcome, OutcomeRestored)
	testutil.Equal(t, e.orch.State(), StateRestored)
	testutil.Equal(t, runs, 1)
	testutil.Equal(t, e.strategy.restores, 1)
	testutil.Equal(t, productCount(t, e.conn), 1)

	widget, err = e.orch.Reference("widget")
	testutil.NoError(t, err)
	testutil.Equal(t, widget["id"], any(int64(1)))
	testutil.Equal(t, widget["price"], any(int64(250)))

	testutil.SliceEqual(t, e.observer.outcomes, []Outcome{OutcomeCreated, OutcomeRestored})
}

func TestCacheHitAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	unit := productUnit(dir, &runs)
	ctx := context.Background()

	first := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{unit}, request: []string{"ProductLoader"}})
	testutil.NoError(t, first.orch.CacheFixtures(ctx))
	_, err := first.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.NoError(t, first.conn.Close())

	second := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{unit}, request: []string{"ProductLoader"}})
	testutil.NoError(t, second.orch.CacheFixtures(ctx))
	testutil.Equal(t, second.orch.Fingerprint(), first.orch.Fingerprint())
	// The backup exists, so caching must not drop the schema.
	testutil.Equal(t, productCount(t, second.conn), 1)

	outcome, err := second.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, outcome, OutcomeRestored)
	testutil.Equal(t, runs, 1)
	testutil.Equal(t, second.strategy.creates, 0)
}

func TestConcurrentRunnerSeesReferences(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	unit := productUnit(dir, &runs)
	ctx := context.Background()

	producer := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{unit}, request: []string{"ProductLoader"}})
	reader := newEnv(t, dir, envConfig{dbFile: "reader.db", useBackup: true, units: []fixtures.Unit{unit}, request: []string{"ProductLoader"}})
	testutil.NoError(t, producer.orch.CacheFixtures(ctx))
	testutil.NoError(t, reader.orch.CacheFixtures(ctx))
	testutil.Equal(t, reader.orch.Fingerprint(), producer.orch.Fingerprint())

	// The reader arrives as soon as the backup file exists, while the
	// producer still holds the lock.
	var readerOutcome Outcome
	var readerErr error
	producer.strategy.afterCreate = func() {
		readerOutcome, readerErr = reader.orch.ReloadFixtures(ctx)
	}

	outcome, err := producer.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, outcome, OutcomeCreated)

	testutil.NoError(t, readerErr)
	testutil.Equal(t, readerOutcome, OutcomeRestored)
	widget, err := reader.orch.Reference("widget")
	testutil.NoError(t, err)
	testutil.Equal(t, widget["price"], any(int64(250)))
	testutil.Equal(t, runs, 1)
}

func TestFailedBackupRemovesReferences(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	e := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{productUnit(dir, &runs)}, request: []string{"ProductLoader"}})
	e.registry.Register(failingStrategy{})
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err := e.orch.ReloadFixtures(ctx)
	testutil.ErrorContains(t, err, "disk full")

	fp := e.orch.Fingerprint().String()
	testutil.False(t, e.registry.Exists(fp))
	testutil.False(t, testutil.FileExists(e.registry.RefsPath(fp)), "refs snapshot should be removed")
}

// failingStrategy replaces the sqlite strategy with one that cannot write.
type failingStrategy struct{ backup.FileCopy }

func (failingStrategy) Create(context.Context, string, string, backup.Params) error {
	return errors.New("disk full")
}

func TestFingerprintChangeRebuilds(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	unit := productUnit(dir, &runs)
	ctx := context.Background()

	e := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{unit}, request: []string{"ProductLoader"}})
	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err := e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	oldFP := e.orch.Fingerprint()

	testutil.Touch(t, unit.Source(), time.Now().Add(time.Minute))

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	testutil.NotEqual(t, e.orch.Fingerprint(), oldFP)
	// Cache miss drops the schema eagerly.
	var tables int
	testutil.NoError(t, e.conn.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'products'").Scan(&tables))
	testutil.Equal(t, tables, 0)

	outcome, err := e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, outcome, OutcomeCreated)
	testutil.Equal(t, runs, 2)
}

func TestBackupsDisabledAlwaysReloads(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	e := newEnv(t, dir, envConfig{useBackup: false, units: []fixtures.Unit{productUnit(dir, &runs)}, request: []string{"ProductLoader"}})
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	for i := 0; i < 2; i++ {
		outcome, err := e.orch.ReloadFixtures(ctx)
		testutil.NoError(t, err)
		testutil.Equal(t, outcome, OutcomeReloaded)
		testutil.Equal(t, productCount(t, e.conn), 1)
		testutil.NoError(t, e.orch.Flush(ctx))
	}
	testutil.Equal(t, runs, 2)
	testutil.Equal(t, e.strategy.creates, 0)
	testutil.False(t, testutil.FileExists(filepath.Join(dir, "cache")), "no cache directory without backups")
}

func TestUnitsRunInDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	var order []string
	mk := func(name string, deps ...string) *fixtures.Func {
		return &fixtures.Func{UnitName: name, DependsOn: deps, Fn: func(context.Context, fixtures.Loader) error {
			order = append(order, name)
			return nil
		}}
	}
	e := newEnv(t, dir, envConfig{units: []fixtures.Unit{mk("A"), mk("B", "A")}, request: []string{"B"}})
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err := e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)
	testutil.SliceEqual(t, order, []string{"A", "B"})
}

func TestFailingUnitRollsBack(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	unit := &fixtures.Func{UnitName: "broken", TableNames: []string{"products"}, Fn: func(ctx context.Context, l fixtures.Loader) error {
		if _, err := l.Insert(ctx, "products", "id", map[string]any{"name": "x", "price": int64(1)}); err != nil {
			return err
		}
		return boom
	}}
	e := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{unit}, request: []string{"broken"}})
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err := e.orch.ReloadFixtures(ctx)
	testutil.ErrorIs(t, err, boom)
	testutil.ErrorContains(t, err, "loading broken")
	testutil.Equal(t, productCount(t, e.conn), 0)
	testutil.False(t, e.registry.Exists(e.orch.Fingerprint().String()), "no backup after a failed load")
}

func TestUnsupportedEngineIsFatal(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir, envConfig{useBackup: true})
	e.orch.registry = backup.NewRegistry(filepath.Join(dir, "cache"), testutil.DiscardLogger())
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err := e.orch.ReloadFixtures(ctx)
	testutil.ErrorIs(t, err, backup.ErrUnsupportedEngine)
}

func TestResolveErrorSurfacesFromCache(t *testing.T) {
	e := newEnv(t, t.TempDir(), envConfig{useBackup: true, request: []string{"Missing"}})
	err := e.orch.CacheFixtures(context.Background())
	testutil.ErrorIs(t, err, fixtures.ErrUnknownUnit)
	testutil.Equal(t, e.orch.State(), StateUninitialized)
}

func TestMirrorReceivesNewBackup(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	backend, err := storage.NewLocalBackend(filepath.Join(dir, "shared"))
	testutil.NoError(t, err)

	e := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{productUnit(dir, &runs)}, request: []string{"ProductLoader"}})
	e.orch.mirror = backup.NewMirror(e.registry, backend, testutil.DiscardLogger())
	ctx := context.Background()

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err = e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)

	name := "test_" + e.orch.Fingerprint().String()
	for _, obj := range []string{name, name + ".refs.json"} {
		ok, err := backend.Exists(ctx, obj)
		testutil.NoError(t, err)
		testutil.True(t, ok, "%s should be mirrored", obj)
	}
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	e := newEnv(t, dir, envConfig{useBackup: true, units: []fixtures.Unit{productUnit(dir, &runs)}, request: []string{"ProductLoader"}})
	ctx := context.Background()

	st := e.orch.Status()
	testutil.Equal(t, st.State, "uninitialized")
	testutil.Equal(t, st.Fingerprint, "")

	testutil.NoError(t, e.orch.CacheFixtures(ctx))
	_, err := e.orch.ReloadFixtures(ctx)
	testutil.NoError(t, err)

	st = e.orch.Status()
	testutil.Equal(t, st.State, "loaded")
	testutil.Equal(t, st.Engine, "sqlite")
	testutil.True(t, st.BackupExists)
	testutil.SliceEqual(t, st.Units, []string{"ProductLoader"})
	testutil.SliceEqual(t, st.References, []string{"widget"})
}

// productUnit returns the ProductLoader unit with its source file in dir.
func productUnit(dir string, runs *int) *sourcedFunc {
	src := filepath.Join(dir, "product_loader.go")
	if _, err := os.Stat(src); err != nil {
		_ = os.WriteFile(src, []byte("package fixtures\n"), 0o644)
	}
	return &sourcedFunc{
		Func: fixtures.Func{
			UnitName:   "ProductLoader",
			TableNames: []string{"products"},
			Fn: func(ctx context.Context, l fixtures.Loader) error {
				*runs++
				e, err := l.Insert(ctx, "products", "id", map[string]any{"name": "Widget", "price": int64(250)})
				if err != nil {
					return err
				}
				return l.AddReference("widget", e)
			},
		},
		source: src,
	}
}

type sourcedFunc struct {
	fixtures.Func
	source string
}

func (s *sourcedFunc) Source() string { return s.source }

// truncateRecorder records listener calls and purges into one event log.
type truncateRecorder struct {
	events *[]string
	preErr error
}

func (r *truncateRecorder) PreTruncate(context.Context, database.Conn) error {
	*r.events = append(*r.events, "pre")
	return r.preErr
}

func (r *truncateRecorder) PostTruncate(context.Context, database.Conn) error {
	*r.events = append(*r.events, "post")
	return nil
}

// purgeConn wraps a connection to record and optionally fail purges.
type purgeConn struct {
	database.Conn
	events *[]string
	err    error
}

func (c *purgeConn) Purge(ctx context.Context, tables []string) error {
	*c.events = append(*c.events, "purge")
	if c.err != nil {
		return c.err
	}
	return c.Conn.Purge(ctx, tables)
}

func TestPurgeBracketedByListeners(t *testing.T) {
	errPurge := errors.New("table locked")
	errPre := errors.New("cannot disable constraints")

	tests := []struct {
		name     string
		purgeErr error
		preErr   error
		wantErr  error
		want     []string
		wantRuns int
	}{
		{name: "success", want: []string{"pre", "purge", "post"}, wantRuns: 1},
		{name: "purge fails", purgeErr: errPurge, wantErr: errPurge, want: []string{"pre", "purge", "post"}},
		{name: "pre fails", preErr: errPre, wantErr: errPre, want: []string{"pre"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			schema := testutil.WriteFile(t, dir, "schema.sql", productSchema)
			conn, err := database.NewSQLite(ctx, filepath.Join(dir, "shop.db"), []string{schema}, testutil.DiscardLogger())
			testutil.NoError(t, err)
			t.Cleanup(func() { conn.Close() })

			runs := 0
			catalog, err := fixtures.NewCatalog(productUnit(dir, &runs))
			testutil.NoError(t, err)

			var events []string
			orch := New(&purgeConn{Conn: conn, events: &events, err: tt.purgeErr},
				backup.NewRegistry(filepath.Join(dir, "cache"), testutil.DiscardLogger()),
				fixtures.NewResolver(catalog, testutil.DiscardLogger()),
				Options{Units: []string{"ProductLoader"}, SchemaFiles: []string{schema}},
				testutil.DiscardLogger(),
				WithTruncateListener(&truncateRecorder{events: &events, preErr: tt.preErr}),
			)

			testutil.NoError(t, orch.CacheFixtures(ctx))
			outcome, err := orch.ReloadFixtures(ctx)
			if tt.wantErr != nil {
				testutil.ErrorIs(t, err, tt.wantErr)
			} else {
				testutil.NoError(t, err)
				testutil.Equal(t, outcome, OutcomeReloaded)
			}
			testutil.SliceEqual(t, events, tt.want)
			testutil.Equal(t, runs, tt.wantRuns)
		})
	}
}
