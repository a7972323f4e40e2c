package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/allyourbase/seedcache/internal/storage"
)

// Mirror copies backups between the local cache directory and a shared
// storage backend. Existence checks stay local; Pull fills the local cache
// from the backend and Push publishes a freshly created backup.
type Mirror struct {
	registry *Registry
	backend  storage.Backend
	logger   *slog.Logger
}

// NewMirror returns a mirror for the registry's cache directory.
func NewMirror(registry *Registry, backend storage.Backend, logger *slog.Logger) *Mirror {
	return &Mirror{registry: registry, backend: backend, logger: logger}
}

// Pull downloads the backup and refs snapshot for fp when they are missing
// locally. It reports whether a backup was fetched.
func (m *Mirror) Pull(ctx context.Context, fp string) (bool, error) {
	if m.registry.Exists(fp) {
		return false, nil
	}
	if err := os.MkdirAll(m.registry.CacheDir(), 0o755); err != nil {
		return false, fmt.Errorf("creating cache directory: %w", err)
	}

	// The backup file marks the cache entry as present, so it lands last.
	refs := m.registry.RefsPath(fp)
	hasRefs, err := m.download(ctx, refs)
	if err != nil {
		return false, err
	}
	ok, err := m.download(ctx, m.registry.FilePath(fp))
	if err != nil || !ok {
		if hasRefs {
			_ = os.Remove(refs)
		}
		return false, err
	}
	m.logger.Info("backup pulled from mirror", "fingerprint", fp)
	return true, nil
}

// Push uploads the refs snapshot, when present, and then the backup for fp.
func (m *Mirror) Push(ctx context.Context, fp string) error {
	refs := m.registry.RefsPath(fp)
	if _, err := os.Stat(refs); err == nil {
		if err := m.upload(ctx, refs); err != nil {
			return err
		}
	}
	if err := m.upload(ctx, m.registry.FilePath(fp)); err != nil {
		return err
	}
	m.logger.Info("backup pushed to mirror", "fingerprint", fp)
	return nil
}

func (m *Mirror) download(ctx context.Context, path string) (bool, error) {
	name := filepath.Base(path)
	rc, err := m.backend.Get(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetching %s from mirror: %w", name, err)
	}
	defer rc.Close()

	partial := path + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", partial, err)
	}
	_, copyErr := io.Copy(f, rc)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return false, fmt.Errorf("writing %s: %w", name, copyErr)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return false, fmt.Errorf("moving %s into place: %w", name, err)
	}
	return true, nil
}

func (m *Mirror) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := m.backend.Put(ctx, filepath.Base(path), f); err != nil {
		return fmt.Errorf("pushing %s to mirror: %w", filepath.Base(path), err)
	}
	return nil
}
