// Package pgmanager runs a throwaway PostgreSQL server for fixture runs when
// no database URL is configured.
package pgmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
)

const (
	DefaultPort = 15433

	dbName = "seedcache"
	dbUser = "seedcache"
	dbPass = "seedcache"
)

// Config holds settings for the embedded server. Root holds the binary
// cache, runtime files and the PID file; DataDir defaults to Root/data.
type Config struct {
	Port    uint32
	Root    string
	DataDir string
	Logger  *slog.Logger
}

// Manager owns one embedded PostgreSQL child process.
type Manager struct {
	cfg     Config
	db      *embeddedpostgres.EmbeddedPostgres
	pid     pidFile
	connURL string
	running bool
	logger  *slog.Logger
}

// New creates a Manager. Nothing starts until Start.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Root == "" {
		cfg.Root = filepath.Join(os.TempDir(), "seedcache-postgres")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.Root, "data")
	}
	return &Manager{
		cfg:    cfg,
		pid:    pidFile(filepath.Join(cfg.Root, "postgres.pid")),
		logger: cfg.Logger,
	}
}

// URL returns the connection URL for an embedded server on port.
func URL(port uint32) string {
	return fmt.Sprintf("postgresql://%s:%s@127.0.0.1:%d/%s?sslmode=disable", dbUser, dbPass, port, dbName)
}

// Start fetches the PostgreSQL binaries on first use, starts the server and
// returns its connection URL. A server left behind by a crashed run is
// terminated first.
func (m *Manager) Start(ctx context.Context) (string, error) {
	if m.running {
		return m.connURL, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	runtimeDir := filepath.Join(m.cfg.Root, "run")
	binDir := filepath.Join(m.cfg.Root, "bin")
	for _, dir := range []string{m.cfg.DataDir, runtimeDir, binDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	m.pid.reapOrphan(m.logger)

	if entries, _ := os.ReadDir(binDir); len(entries) == 0 {
		m.logger.Info("downloading PostgreSQL binaries (first run only)")
	}

	m.db = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Port(m.cfg.Port).
		DataPath(m.cfg.DataDir).
		RuntimePath(runtimeDir).
		CachePath(binDir).
		Version(embeddedpostgres.V16).
		Database(dbName).
		Username(dbUser).
		Password(dbPass).
		Logger(logWriter{m.logger}).
		StartTimeout(60 * time.Second))

	if err := m.db.Start(); err != nil {
		return "", fmt.Errorf("starting embedded postgres: %w", err)
	}

	if pid, err := postmasterPID(filepath.Join(m.cfg.DataDir, "postmaster.pid")); err == nil && pid > 0 {
		if err := m.pid.write(pid); err != nil {
			m.logger.Warn("could not record postgres pid", "error", err)
		}
	}

	m.connURL = URL(m.cfg.Port)
	m.running = true
	m.logger.Info("embedded postgres started", "port", m.cfg.Port, "data", m.cfg.DataDir)
	return m.connURL, nil
}

// Stop shuts the server down.
func (m *Manager) Stop() error {
	if !m.running || m.db == nil {
		return nil
	}

	err := m.db.Stop()
	m.running = false
	_ = m.pid.remove()
	if err != nil {
		return fmt.Errorf("stopping embedded postgres: %w", err)
	}
	m.logger.Info("embedded postgres stopped")
	return nil
}

// ConnURL returns the connection URL. Only valid after Start succeeds.
func (m *Manager) ConnURL() string { return m.connURL }

// IsRunning reports whether the server was started and not stopped.
func (m *Manager) IsRunning() bool { return m.running }

// logWriter adapts *slog.Logger to io.Writer for embedded-postgres output.
type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.logger.Debug("postgres", "output", line)
		}
	}
	return len(p), nil
}
