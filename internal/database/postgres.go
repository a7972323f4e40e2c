package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/refs"
)

// Postgres is a Conn backed by a pgx connection pool.
type Postgres struct {
	pool        *pgxpool.Pool
	database    string
	params      backup.Params
	schemaFiles []string
	logger      *slog.Logger
}

// NewPostgres connects to url and validates the connection.
func NewPostgres(ctx context.Context, url string, schemaFiles []string, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	var version string
	if err := pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		pool.Close()
		return nil, fmt.Errorf("querying server version: %w", err)
	}
	logger.Info("connected to PostgreSQL", "version", version, "database", poolCfg.ConnConfig.Database)

	return &Postgres{
		pool:        pool,
		database:    poolCfg.ConnConfig.Database,
		params:      pgParams(poolCfg.ConnConfig),
		schemaFiles: schemaFiles,
		logger:      logger,
	}, nil
}

func pgParams(cc *pgx.ConnConfig) backup.Params {
	p := backup.Params{Host: cc.Host, User: cc.User, Password: cc.Password}
	if cc.Port != 0 {
		p.Port = strconv.Itoa(int(cc.Port))
	}
	return p
}

// Pool returns the underlying pool.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Engine() string        { return EnginePostgres }
func (p *Postgres) DatabaseName() string  { return p.database }
func (p *Postgres) Params() backup.Params { return p.params }

func (p *Postgres) Exec(ctx context.Context, query string, args ...any) error {
	_, err := p.pool.Exec(ctx, query, args...)
	return err
}

func (p *Postgres) Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error) {
	return pgInsert(ctx, p.pool, table, key, values)
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) DropSchema(ctx context.Context) error {
	var schema string
	if err := p.pool.QueryRow(ctx, "SELECT current_schema()").Scan(&schema); err != nil {
		return &SchemaOperationError{Op: "drop", Err: fmt.Errorf("querying current schema: %w", err)}
	}
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := p.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE; CREATE SCHEMA "+ident); err != nil {
		return &SchemaOperationError{Op: "drop", Err: err}
	}
	p.logger.Info("schema dropped", "schema", schema)
	return nil
}

func (p *Postgres) CreateSchema(ctx context.Context) error {
	return createSchema(ctx, p.schemaFiles, func(ctx context.Context, script string) error {
		_, err := p.pool.Exec(ctx, script)
		return err
	}, p.logger)
}

func (p *Postgres) Purge(ctx context.Context, tables []string) error {
	var existing []string
	for _, t := range tables {
		var ok bool
		if err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", pgIdent(t)).Scan(&ok); err != nil {
			return fmt.Errorf("checking table %s: %w", t, err)
		}
		if ok {
			existing = append(existing, pgIdent(t))
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, "TRUNCATE "+strings.Join(existing, ", ")+" RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("truncating tables: %w", err)
	}
	p.logger.Debug("tables purged", "tables", existing)
	return nil
}

// ClearCache closes every pooled connection, discarding their prepared
// statement caches.
func (p *Postgres) ClearCache(_ context.Context) error {
	p.pool.Reset()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	p.logger.Info("database connection pool closed")
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t *pgTx) Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error) {
	return pgInsert(ctx, t.tx, table, key, values)
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgInsert(ctx context.Context, q pgQuerier, table, key string, values map[string]any) (refs.Entity, error) {
	query, args := buildPgInsert(table, values)
	e := entityFrom(values)

	_, given := values[key]
	if key == "" || given {
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("inserting into %s: %w", table, err)
		}
		return e, nil
	}

	var id any
	if err := q.QueryRow(ctx, query+" RETURNING "+pgIdent(key), args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}
	e[key] = normalizeKey(id)
	return e, nil
}

func buildPgInsert(table string, values map[string]any) (string, []any) {
	cols := sortedColumns(values)
	if len(cols) == 0 {
		return "INSERT INTO " + pgIdent(table) + " DEFAULT VALUES", nil
	}
	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = pgIdent(c)
		holders[i] = "$" + strconv.Itoa(i+1)
		args[i] = values[c]
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgIdent(table), strings.Join(quoted, ", "), strings.Join(holders, ", ")), args
}

// pgIdent quotes a possibly schema-qualified identifier.
func pgIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
