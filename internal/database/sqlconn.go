package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/allyourbase/seedcache/internal/refs"
)

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// quoteFunc quotes a possibly qualified identifier for one dialect.
type quoteFunc func(name string) string

func backtickIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

func doubleQuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// sqlInsert inserts with ? placeholders and reads generated keys through
// LastInsertId.
func sqlInsert(ctx context.Context, ex sqlExecer, quote quoteFunc, table, key string, values map[string]any) (refs.Entity, error) {
	cols := sortedColumns(values)
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		args[i] = values[c]
	}

	var query string
	if len(cols) == 0 {
		query = "INSERT INTO " + quote(table) + " DEFAULT VALUES"
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	}

	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}

	e := entityFrom(values)
	if _, given := values[key]; key != "" && !given {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading generated key of %s: %w", table, err)
		}
		e[key] = id
	}
	return e, nil
}

type sqlTx struct {
	tx    *sql.Tx
	quote quoteFunc
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlTx) Insert(ctx context.Context, table, key string, values map[string]any) (refs.Entity, error) {
	return sqlInsert(ctx, t.tx, t.quote, table, key, values)
}

func (t *sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }

// queryStrings runs query and collects the first column of every row.
func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// existingTables filters tables down to those present in have.
func existingTables(tables, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[strings.ToLower(h)] = true
	}
	var out []string
	for _, t := range tables {
		name := t
		if i := strings.LastIndexByte(t, '.'); i >= 0 {
			name = t[i+1:]
		}
		if contains(set, name) {
			out = append(out, t)
		}
	}
	return out
}
