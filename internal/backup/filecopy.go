package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/otiai10/copy"
)

// FileCopy snapshots file-based databases (SQLite) by copying the database
// file. The database name is the path of the database file.
//
// Restore overwrites the live file, so the caller must release any open
// handle on it first.
type FileCopy struct{}

// NewFileCopy returns a FileCopy strategy.
func NewFileCopy() *FileCopy { return &FileCopy{} }

func (FileCopy) Name() string { return "sqlite" }

func (FileCopy) Create(ctx context.Context, database, file string, _ Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	partial := file + ".partial"
	if err := copy.Copy(database, partial, copy.Options{Sync: true}); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("copying %s: %w", database, err)
	}
	if err := os.Rename(partial, file); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("moving backup into place: %w", err)
	}
	return nil
}

func (FileCopy) Restore(ctx context.Context, database, file string, _ Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Stale journal files would be replayed against the restored copy.
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(database + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s%s: %w", database, suffix, err)
		}
	}
	if err := copy.Copy(file, database, copy.Options{Sync: true}); err != nil {
		return fmt.Errorf("restoring %s: %w", database, err)
	}
	return nil
}
