// Package backup creates and restores binary database snapshots keyed by
// fixture fingerprint. Each database engine is served by a Strategy; the
// Registry maps engine names to strategies and owns the cache directory
// layout.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Strategy dumps a database to a file and restores it from that file.
type Strategy interface {
	// Name returns the engine identifier this strategy handles, e.g. "mysql".
	Name() string
	Create(ctx context.Context, database, file string, params Params) error
	Restore(ctx context.Context, database, file string, params Params) error
}

// Params holds optional connection parameters passed to dump tools.
// Empty fields are omitted from the generated command line.
type Params struct {
	Host     string
	User     string
	Password string
	Port     string
}

// Target is a live database that can be snapshotted.
type Target interface {
	Engine() string
	DatabaseName() string
	Params() Params
}

// ErrUnsupportedEngine is matched by UnsupportedEngineError via errors.Is.
var ErrUnsupportedEngine = errors.New("unsupported database engine")

// UnsupportedEngineError is returned when no strategy is registered for an engine.
type UnsupportedEngineError struct {
	Engine string
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported database engine %q: no backup strategy registered", e.Engine)
}

func (e *UnsupportedEngineError) Unwrap() error { return ErrUnsupportedEngine }

// ExecutionError is returned when an external dump or restore process fails.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, msg)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
