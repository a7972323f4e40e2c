package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	filePrefix = "test_"
	refsSuffix = ".refs.json"
	lockSuffix = ".lock"
)

// Registry maps engine names to strategies and owns the layout of the cache
// directory: <cacheDir>/test_<fingerprint> plus its refs snapshot and lock.
type Registry struct {
	cacheDir   string
	strategies map[string]Strategy
	locking    bool
	logger     *slog.Logger
}

// NewRegistry returns an empty registry rooted at cacheDir. Strategies are
// added with Register.
func NewRegistry(cacheDir string, logger *slog.Logger) *Registry {
	return &Registry{
		cacheDir:   cacheDir,
		strategies: make(map[string]Strategy),
		locking:    true,
		logger:     logger,
	}
}

// NewDefaultRegistry returns a registry with the mysql, postgresql and
// sqlite strategies registered.
func NewDefaultRegistry(cacheDir string, bins Binaries, logger *slog.Logger) *Registry {
	r := NewRegistry(cacheDir, logger)
	r.Register(NewMySQLDump(bins.MySQLDump, bins.MySQL))
	r.Register(NewPgDump(bins.PgDump, bins.PgRestore))
	r.Register(NewFileCopy())
	return r
}

// Binaries names the external tools used by the default strategies.
type Binaries struct {
	PgDump    string
	PgRestore string
	MySQLDump string
	MySQL     string
}

// SetLocking enables or disables the advisory lock taken by Lock.
func (r *Registry) SetLocking(enabled bool) { r.locking = enabled }

// Register adds s under s.Name(). A later registration for the same name
// replaces the earlier one.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Has reports whether a strategy is registered for engine.
func (r *Registry) Has(engine string) bool {
	_, ok := r.strategies[engine]
	return ok
}

// Get returns the strategy for engine or an *UnsupportedEngineError.
func (r *Registry) Get(engine string) (Strategy, error) {
	s, ok := r.strategies[engine]
	if !ok {
		return nil, &UnsupportedEngineError{Engine: engine}
	}
	return s, nil
}

// CacheDir returns the directory holding backup files.
func (r *Registry) CacheDir() string { return r.cacheDir }

// FilePath returns the backup path for fingerprint fp.
func (r *Registry) FilePath(fp string) string {
	return filepath.Join(r.cacheDir, filePrefix+fp)
}

// RefsPath returns the reference snapshot path stored next to the backup.
func (r *Registry) RefsPath(fp string) string {
	return r.FilePath(fp) + refsSuffix
}

// Exists reports whether a backup file for fp is present on disk.
func (r *Registry) Exists(fp string) bool {
	_, err := os.Stat(r.FilePath(fp))
	return err == nil
}

// Create snapshots target into the backup file for fp.
func (r *Registry) Create(ctx context.Context, target Target, fp string) error {
	s, err := r.Get(target.Engine())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	path := r.FilePath(fp)
	start := time.Now()
	if err := s.Create(ctx, target.DatabaseName(), path, target.Params()); err != nil {
		return fmt.Errorf("creating %s backup: %w", s.Name(), err)
	}
	r.logger.Info("backup created", "engine", s.Name(), "path", path, "duration", time.Since(start))
	return nil
}

// Restore replaces the contents of target with the backup file for fp.
func (r *Registry) Restore(ctx context.Context, target Target, fp string) error {
	s, err := r.Get(target.Engine())
	if err != nil {
		return err
	}

	path := r.FilePath(fp)
	start := time.Now()
	if err := s.Restore(ctx, target.DatabaseName(), path, target.Params()); err != nil {
		return fmt.Errorf("restoring %s backup: %w", s.Name(), err)
	}
	r.logger.Info("backup restored", "engine", s.Name(), "path", path, "duration", time.Since(start))
	return nil
}

// Lock takes an exclusive advisory lock for fp so that concurrent runners
// computing the same fingerprint produce the backup only once. The returned
// function releases the lock. When locking is disabled Lock is a no-op.
func (r *Registry) Lock(ctx context.Context, fp string) (func() error, error) {
	if !r.locking {
		return func() error { return nil }, nil
	}
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	fl := flock.New(r.FilePath(fp) + lockSuffix)
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("locking %s: lock not acquired", fl.Path())
	}
	r.logger.Debug("backup lock acquired", "path", fl.Path())
	return fl.Unlock, nil
}

// Record describes one backup file in the cache directory.
type Record struct {
	Fingerprint string
	Path        string
	Size        int64
	ModTime     time.Time
	HasRefs     bool
}

// List returns the backups in the cache directory, newest first. A missing
// cache directory yields an empty list.
func (r *Registry) List() ([]Record, error) {
	entries, err := os.ReadDir(r.cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var records []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || isAuxiliary(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		fp := strings.TrimPrefix(name, filePrefix)
		_, refsErr := os.Stat(r.RefsPath(fp))
		records = append(records, Record{
			Fingerprint: fp,
			Path:        filepath.Join(r.cacheDir, name),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			HasRefs:     refsErr == nil,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})
	return records, nil
}

// Remove deletes the backup for fp together with its refs snapshot and lock
// file. Missing files are ignored.
func (r *Registry) Remove(fp string) error {
	path := r.FilePath(fp)
	for _, p := range []string{path, path + refsSuffix, path + lockSuffix, path + ".partial"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	r.logger.Info("backup removed", "path", path)
	return nil
}

func isAuxiliary(name string) bool {
	return strings.HasSuffix(name, refsSuffix) ||
		strings.HasSuffix(name, lockSuffix) ||
		strings.HasSuffix(name, ".partial")
}
