package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/allyourbase/seedcache/internal/testutil"
)

const shopSchema = `
CREATE TABLE categories (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);
CREATE TABLE products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	category_id INTEGER NOT NULL REFERENCES categories(id)
);
CREATE VIEW product_names AS SELECT name FROM products;
`

func openShop(t *testing.T) *SQLite {
	t.Helper()
	dir := t.TempDir()
	schema := testutil.WriteFile(t, dir, "schema.sql", shopSchema)
	s, err := NewSQLite(context.Background(), filepath.Join(dir, "shop.db"), []string{schema}, testutil.DiscardLogger())
	testutil.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	testutil.NoError(t, s.CreateSchema(context.Background()))
	return s
}

func count(t *testing.T, s *SQLite, table string) int {
	t.Helper()
	var n int
	testutil.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+doubleQuoteIdent(table)).Scan(&n))
	return n
}

func TestSQLitePath(t *testing.T) {
	abs, _ := filepath.Abs("data/app.db")
	for _, in := range []string{"data/app.db", "sqlite://data/app.db", "file:data/app.db?cache=shared"} {
		got, err := SQLitePath(in)
		testutil.NoError(t, err)
		testutil.Equal(t, got, abs)
	}

	_, err := SQLitePath(":memory:")
	testutil.ErrorContains(t, err, "must be a file")
}

func TestSQLiteInsertReturnsGeneratedKey(t *testing.T) {
	s := openShop(t)
	ctx := context.Background()

	cat, err := s.Insert(ctx, "categories", "id", map[string]any{"name": "Tools"})
	testutil.NoError(t, err)
	testutil.Equal(t, cat["id"], any(int64(1)))
	testutil.Equal(t, cat["name"], any("Tools"))

	// A provided key is kept as-is.
	cat2, err := s.Insert(ctx, "categories", "id", map[string]any{"id": int64(10), "name": "Garden"})
	testutil.NoError(t, err)
	testutil.Equal(t, cat2["id"], any(int64(10)))

	// Empty key skips retrieval.
	p, err := s.Insert(ctx, "products", "", map[string]any{"name": "Hammer", "category_id": int64(1)})
	testutil.NoError(t, err)
	_, hasID := p["id"]
	testutil.False(t, hasID, "key should not be read back")
}

func TestSQLiteTransactionRollback(t *testing.T) {
	s := openShop(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	testutil.NoError(t, err)
	_, err = tx.Insert(ctx, "categories", "id", map[string]any{"name": "Temp"})
	testutil.NoError(t, err)
	testutil.NoError(t, tx.Rollback(ctx))
	testutil.Equal(t, count(t, s, "categories"), 0)

	tx, err = s.Begin(ctx)
	testutil.NoError(t, err)
	testutil.NoError(t, tx.Exec(ctx, "INSERT INTO categories (name) VALUES (?)", "Kept"))
	testutil.NoError(t, tx.Commit(ctx))
	testutil.Equal(t, count(t, s, "categories"), 1)
}

func TestSQLitePurgeWithPlatformListener(t *testing.T) {
	s := openShop(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "categories", "id", map[string]any{"name": "Tools"})
	testutil.NoError(t, err)
	_, err = s.Insert(ctx, "products", "id", map[string]any{"name": "Hammer", "category_id": int64(1)})
	testutil.NoError(t, err)

	var l PlatformListener
	testutil.NoError(t, l.PreTruncate(ctx, s))
	// Parent first would violate the foreign key if checks were on.
	testutil.NoError(t, s.Purge(ctx, []string{"categories", "products", "not_created_yet"}))
	testutil.NoError(t, l.PostTruncate(ctx, s))

	testutil.Equal(t, count(t, s, "categories"), 0)
	testutil.Equal(t, count(t, s, "products"), 0)

	// AUTOINCREMENT restarts.
	cat, err := s.Insert(ctx, "categories", "id", map[string]any{"name": "Again"})
	testutil.NoError(t, err)
	testutil.Equal(t, cat["id"], any(int64(1)))
}

func TestSQLiteDropSchema(t *testing.T) {
	s := openShop(t)
	ctx := context.Background()

	testutil.NoError(t, s.DropSchema(ctx))
	tables, err := s.objects(ctx, "table")
	testutil.NoError(t, err)
	testutil.SliceLen(t, tables, 0)
	views, err := s.objects(ctx, "view")
	testutil.NoError(t, err)
	testutil.SliceLen(t, views, 0)

	// Dropping an empty database is fine, and the schema can be recreated.
	testutil.NoError(t, s.DropSchema(ctx))
	testutil.NoError(t, s.CreateSchema(ctx))
	tables, err = s.objects(ctx, "table")
	testutil.NoError(t, err)
	testutil.SliceEqual(t, tables, []string{"categories", "products"})
}

func TestSQLiteCreateSchemaError(t *testing.T) {
	dir := t.TempDir()
	bad := testutil.WriteFile(t, dir, "bad.sql", "CREATE TABLE (;")
	s, err := NewSQLite(context.Background(), filepath.Join(dir, "x.db"), []string{bad}, testutil.DiscardLogger())
	testutil.NoError(t, err)
	defer s.Close()

	err = s.CreateSchema(context.Background())
	var opErr *SchemaOperationError
	testutil.True(t, asSchemaError(err, &opErr), "expected *SchemaOperationError, got %v", err)
	testutil.Equal(t, opErr.Op, "create")
	testutil.ErrorContains(t, err, "bad.sql")
}

func TestSQLiteSuspendResume(t *testing.T) {
	s := openShop(t)
	ctx := context.Background()

	testutil.NoError(t, s.Suspend())
	testutil.True(t, s.DB() == nil)
	testutil.NoError(t, s.Suspend())
	testutil.NoError(t, s.Resume(ctx))
	testutil.NoError(t, s.Ping(ctx))
	testutil.Equal(t, count(t, s, "categories"), 0)
}

func TestOpenUnsupportedEngine(t *testing.T) {
	_, err := Open(context.Background(), Options{Engine: "oracle", URL: "x"}, testutil.DiscardLogger())
	testutil.ErrorContains(t, err, `unsupported database engine "oracle"`)

	_, err = Open(context.Background(), Options{Engine: EngineSQLite}, testutil.DiscardLogger())
	testutil.ErrorContains(t, err, "URL is required")
}

func TestExistingTables(t *testing.T) {
	got := existingTables([]string{"Users", "public.orders", "ghost"}, []string{"users", "orders"})
	testutil.SliceEqual(t, got, []string{"Users", "public.orders"})
}

func TestQuoteIdent(t *testing.T) {
	testutil.Equal(t, backtickIdent("shop.order`s"), "`shop`.`order``s`")
	testutil.Equal(t, doubleQuoteIdent(`we"ird`), `"we""ird"`)
	testutil.Equal(t, pgIdent("public.users"), `"public"."users"`)
}

func TestBuildPgInsert(t *testing.T) {
	q, args := buildPgInsert("users", map[string]any{"name": "a", "email": "b"})
	testutil.Equal(t, q, `INSERT INTO "users" ("email", "name") VALUES ($1, $2)`)
	testutil.SliceLen(t, args, 2)
	testutil.Equal(t, args[0], any("b"))

	q, _ = buildPgInsert("users", nil)
	testutil.Equal(t, q, `INSERT INTO "users" DEFAULT VALUES`)
}
