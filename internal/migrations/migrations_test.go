package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/allyourbase/seedcache/internal/database"
	"github.com/allyourbase/seedcache/internal/testutil"
)

func TestVersionOf(t *testing.T) {
	tests := []struct{ path, want string }{
		{"/m/V1_init.sql", "1"},
		{"/m/v2.1_add_users.sql", "2.1"},
		{"/m/20240101_seed.sql", "20240101_seed"},
		{"/m/Vx.sql", "Vx"},
	}
	for _, tt := range tests {
		testutil.Equal(t, VersionOf(tt.path), tt.want)
	}
}

func TestDiscoverOrdersBySemver(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "V10_late.sql", "")
	testutil.WriteFile(t, dir, "V2_middle.sql", "")
	testutil.WriteFile(t, dir, "V1.5_early.sql", "")
	testutil.WriteFile(t, dir, "notes.txt", "")

	files, err := Discover([]string{dir}, "sqlite")
	testutil.NoError(t, err)

	var versions []string
	for _, f := range files {
		versions = append(versions, f.Version)
	}
	testutil.SliceEqual(t, versions, []string{"1.5", "2", "10"})
}

func TestDiscoverEngineFallback(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "mysql/V1_init.sql", "")
	pg := testutil.WriteFile(t, dir, "postgresql/V1_init.sql", "")

	files, err := Discover([]string{dir}, "postgresql")
	testutil.NoError(t, err)
	testutil.SliceEqual(t, Paths(files), []string{pg})

	files, err = Discover([]string{dir}, "sqlite")
	testutil.NoError(t, err)
	testutil.SliceLen(t, files, 0)
}

func TestDiscoverLaterVersionWins(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	testutil.WriteFile(t, a, "V1_init.sql", "")
	override := testutil.WriteFile(t, b, "V1_init_override.sql", "")
	extra := testutil.WriteFile(t, b, "V3_extra.sql", "")

	files, err := Discover([]string{a, b}, "")
	testutil.NoError(t, err)
	testutil.SliceEqual(t, Paths(files), []string{override, extra})
}

func TestDiscoverFileEntryAndMissing(t *testing.T) {
	dir := t.TempDir()
	f := testutil.WriteFile(t, dir, "schema.sql", "")

	files, err := Discover([]string{f}, "")
	testutil.NoError(t, err)
	testutil.SliceEqual(t, Paths(files), []string{f})

	_, err = Discover([]string{filepath.Join(dir, "absent")}, "")
	testutil.ErrorContains(t, err, "migration path")
}

func TestRunnerAppliesInOrder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	conn, err := database.NewSQLite(ctx, filepath.Join(dir, "m.db"), nil, testutil.DiscardLogger())
	testutil.NoError(t, err)
	defer conn.Close()

	testutil.WriteFile(t, dir, "migrations/V1_create.sql", "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);")
	testutil.WriteFile(t, dir, "migrations/V2_seed.sql", "INSERT INTO items (name) VALUES ('first'); INSERT INTO items (name) VALUES ('second');")
	testutil.WriteFile(t, dir, "migrations/V3_empty.sql", "  \n")

	files, err := Discover([]string{filepath.Join(dir, "migrations")}, database.EngineSQLite)
	testutil.NoError(t, err)

	applied, err := NewRunner(conn, testutil.DiscardLogger()).Run(ctx, files)
	testutil.NoError(t, err)
	testutil.Equal(t, applied, 2)

	var n int
	testutil.NoError(t, conn.DB().QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	testutil.Equal(t, n, 2)
}

func TestRunnerStopsOnError(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	conn, err := database.NewSQLite(ctx, filepath.Join(dir, "m.db"), nil, testutil.DiscardLogger())
	testutil.NoError(t, err)
	defer conn.Close()

	good := testutil.WriteFile(t, dir, "V1_ok.sql", "CREATE TABLE a (id INTEGER);")
	bad := testutil.WriteFile(t, dir, "V2_bad.sql", "CREATE TABLE (;")

	applied, err := NewRunner(conn, testutil.DiscardLogger()).Run(ctx, []File{{Path: good, Version: "1"}, {Path: bad, Version: "2"}})
	testutil.ErrorContains(t, err, "executing migration")
	testutil.Equal(t, applied, 1)
}
