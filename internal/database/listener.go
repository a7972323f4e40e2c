package database

import (
	"context"
	"fmt"
)

// PlatformListener disables foreign key enforcement around table purges on
// engines whose truncation respects it. PostgreSQL needs nothing since its
// purge uses TRUNCATE ... CASCADE.
type PlatformListener struct{}

func (PlatformListener) PreTruncate(ctx context.Context, conn Conn) error {
	switch conn.Engine() {
	case EngineMySQL:
		return execToggle(ctx, conn, "SET foreign_key_checks = 0")
	case EngineSQLite:
		return execToggle(ctx, conn, "PRAGMA foreign_keys = OFF")
	}
	return nil
}

func (PlatformListener) PostTruncate(ctx context.Context, conn Conn) error {
	switch conn.Engine() {
	case EngineMySQL:
		return execToggle(ctx, conn, "SET foreign_key_checks = 1")
	case EngineSQLite:
		return execToggle(ctx, conn, "PRAGMA foreign_keys = ON")
	}
	return nil
}

func execToggle(ctx context.Context, conn Conn, stmt string) error {
	if err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}
