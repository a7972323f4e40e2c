package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/refs"
)

// SQLite is a Conn over a SQLite database file. The pool holds a single
// connection so PRAGMA foreign_keys toggles apply to every statement.
type SQLite struct {
	path        string
	db          *sql.DB
	schemaFiles []string
	logger      *slog.Logger
}

// NewSQLite opens the database file named by url ("sqlite://path",
// "file:path" or a plain path), creating it if needed.
func NewSQLite(ctx context.Context, url string, schemaFiles []string, logger *slog.Logger) (*SQLite, error) {
	path, err := SQLitePath(url)
	if err != nil {
		return nil, err
	}
	s := &SQLite{path: path, schemaFiles: schemaFiles, logger: logger}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	logger.Info("opened SQLite database", "path", path)
	return s, nil
}

// SQLitePath extracts an absolute file path from url.
func SQLitePath(url string) (string, error) {
	path := url
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(path, "mode=memory") {
		return "", fmt.Errorf("sqlite database must be a file, got %q", url)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving sqlite path: %w", err)
	}
	return abs, nil
}

func (s *SQLite) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLite) Engine() string        { return EngineSQLite }
func (s *SQLite) DatabaseName() string  { return s.path }
func (s *SQLite) Params() backup.Params { return backup.Params{} }

// DB returns the underlying handle. It changes across Suspend/Resume.
func (s *SQLite) DB() *sql.DB { return s.db }

// Suspend closes the database so the file can be replaced.
func (s *SQLite) Suspend() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Resume reopens the database after Suspend.
func (s *SQLite) Resume(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	return s.open(ctx)
}

func (s *SQLite) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLite) Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error) {
	return sqlInsert(ctx, s.db, doubleQuoteIdent, table, key, values)
}

func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqlTx{tx: tx, quote: doubleQuoteIdent}, nil
}

func (s *SQLite) objects(ctx context.Context, kind string) ([]string, error) {
	return queryStrings(ctx, s.db,
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%' ORDER BY name", kind)
}

func (s *SQLite) DropSchema(ctx context.Context) error {
	views, err := s.objects(ctx, "view")
	if err != nil {
		return &SchemaOperationError{Op: "drop", Err: fmt.Errorf("listing views: %w", err)}
	}
	tables, err := s.objects(ctx, "table")
	if err != nil {
		return &SchemaOperationError{Op: "drop", Err: fmt.Errorf("listing tables: %w", err)}
	}

	stmts := []string{"PRAGMA foreign_keys = OFF"}
	for _, v := range views {
		stmts = append(stmts, "DROP VIEW IF EXISTS "+doubleQuoteIdent(v))
	}
	for _, t := range tables {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+doubleQuoteIdent(t))
	}
	stmts = append(stmts, "PRAGMA foreign_keys = ON")
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &SchemaOperationError{Op: "drop", Err: err}
		}
	}
	s.logger.Info("schema dropped", "path", s.path, "tables", len(tables), "views", len(views))
	return nil
}

func (s *SQLite) CreateSchema(ctx context.Context) error {
	return createSchema(ctx, s.schemaFiles, func(ctx context.Context, script string) error {
		_, err := s.db.ExecContext(ctx, script)
		return err
	}, s.logger)
}

// Purge deletes all rows from the existing tables and resets their
// AUTOINCREMENT counters.
func (s *SQLite) Purge(ctx context.Context, tables []string) error {
	have, err := s.objects(ctx, "table")
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	targets := existingTables(tables, have)
	for _, t := range targets {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+doubleQuoteIdent(t)); err != nil {
			return fmt.Errorf("purging %s: %w", t, err)
		}
	}

	var hasSequence int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&hasSequence)
	if err != nil {
		return fmt.Errorf("checking sqlite_sequence: %w", err)
	}
	if hasSequence > 0 {
		for _, t := range targets {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", t); err != nil {
				return fmt.Errorf("resetting sequence of %s: %w", t, err)
			}
		}
	}
	return nil
}

// ClearCache is a no-op: database/sql keeps no statement cache of its own
// and the single connection holds the database open.
func (s *SQLite) ClearCache(context.Context) error { return nil }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
