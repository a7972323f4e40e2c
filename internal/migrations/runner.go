package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/allyourbase/seedcache/internal/database"
)

// Runner replays migration files against a connection. There is no
// applied-migrations table: the schema is rebuilt from scratch before every
// replay.
type Runner struct {
	conn   database.Conn
	logger *slog.Logger
}

// NewRunner creates a migration runner.
func NewRunner(conn database.Conn, logger *slog.Logger) *Runner {
	return &Runner{conn: conn, logger: logger}
}

// Run executes files in order, each in its own transaction, and returns the
// number applied.
func (r *Runner) Run(ctx context.Context, files []File) (int, error) {
	applied := 0
	for _, f := range files {
		sql, err := os.ReadFile(f.Path)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", f.Path, err)
		}
		if strings.TrimSpace(string(sql)) == "" {
			continue
		}

		tx, err := r.conn.Begin(ctx)
		if err != nil {
			return applied, fmt.Errorf("starting transaction for %s: %w", f.Path, err)
		}
		if err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("executing migration %s: %w", f.Path, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, fmt.Errorf("committing migration %s: %w", f.Path, err)
		}

		r.logger.Info("applied migration", "version", f.Version, "path", f.Path)
		applied++
	}
	return applied, nil
}
