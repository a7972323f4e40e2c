// Package database provides the engine connections fixtures are loaded
// through: PostgreSQL (pgx), MySQL (go-sql-driver) and SQLite (modernc).
// Each connection exposes the schema operations the orchestrator needs
// (drop, create, purge) and a transactional executor for fixture units.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/refs"
)

// Engine names. They double as backup strategy names.
const (
	EnginePostgres = "postgresql"
	EngineMySQL    = "mysql"
	EngineSQLite   = "sqlite"
)

// Engines lists the supported engines.
var Engines = []string{EnginePostgres, EngineMySQL, EngineSQLite}

// Executor runs statements and single-row inserts.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) error
	// Insert writes values into table. When key is non-empty and absent from
	// values, the generated key is read back into the returned entity.
	Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error)
}

// Tx is an Executor bound to one transaction.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a live database connection.
type Conn interface {
	backup.Target
	Executor

	Begin(ctx context.Context) (Tx, error)
	// DropSchema removes every table (and view) from the database.
	DropSchema(ctx context.Context) error
	// CreateSchema executes the configured schema files in order.
	CreateSchema(ctx context.Context) error
	// Purge empties the given tables and resets their identity counters.
	// Tables that do not exist are skipped.
	Purge(ctx context.Context, tables []string) error
	// ClearCache drops cached statements and session state.
	ClearCache(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Suspender is implemented by connections that hold the database file open
// and must release it while a backup is restored over it.
type Suspender interface {
	Suspend() error
	Resume(ctx context.Context) error
}

// SchemaOperationError reports a failed drop or create of the schema.
type SchemaOperationError struct {
	Op  string // "drop" or "create"
	Err error
}

func (e *SchemaOperationError) Error() string {
	return fmt.Sprintf("schema %s failed: %v", e.Op, e.Err)
}

func (e *SchemaOperationError) Unwrap() error { return e.Err }

// Options configure Open.
type Options struct {
	Engine      string
	URL         string
	SchemaFiles []string
}

// Open connects to the database described by opts.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	switch opts.Engine {
	case EnginePostgres:
		return NewPostgres(ctx, opts.URL, opts.SchemaFiles, logger)
	case EngineMySQL:
		return NewMySQL(ctx, opts.URL, opts.SchemaFiles, logger)
	case EngineSQLite:
		return NewSQLite(ctx, opts.URL, opts.SchemaFiles, logger)
	default:
		return nil, fmt.Errorf("unsupported database engine %q (supported: %s)", opts.Engine, strings.Join(Engines, ", "))
	}
}

// readSchemaFiles returns the contents of each schema file in order.
func readSchemaFiles(files []string) ([]string, error) {
	scripts := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading schema file: %w", err)
		}
		scripts = append(scripts, string(data))
	}
	return scripts, nil
}

// createSchema runs every schema file through exec.
func createSchema(ctx context.Context, files []string, exec func(context.Context, string) error, logger *slog.Logger) error {
	scripts, err := readSchemaFiles(files)
	if err != nil {
		return &SchemaOperationError{Op: "create", Err: err}
	}
	for i, script := range scripts {
		if strings.TrimSpace(script) == "" {
			continue
		}
		if err := exec(ctx, script); err != nil {
			return &SchemaOperationError{Op: "create", Err: fmt.Errorf("executing %s: %w", files[i], err)}
		}
	}
	logger.Info("schema created", "files", len(scripts))
	return nil
}

// sortedColumns returns the keys of values in a stable order so generated
// statements are reproducible.
func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// entityFrom copies values into a new entity.
func entityFrom(values map[string]any) refs.Entity {
	e := make(refs.Entity, len(values)+1)
	for k, v := range values {
		e[k] = v
	}
	return e
}

// normalizeKey folds driver-specific key types into int64 or string.
func normalizeKey(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case []byte:
		return string(x)
	default:
		return v
	}
}

// contains reports whether set holds name, ignoring case.
func contains(set map[string]bool, name string) bool {
	return set[strings.ToLower(name)]
}
