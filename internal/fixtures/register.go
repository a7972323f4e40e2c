package fixtures

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
)

// Func is a unit implemented by a Go function.
type Func struct {
	UnitName   string
	DependsOn  []string
	TableNames []string
	Fn         func(ctx context.Context, l Loader) error

	source string
}

func (f *Func) Name() string           { return f.UnitName }
func (f *Func) Dependencies() []string { return f.DependsOn }
func (f *Func) Tables() []string       { return f.TableNames }
func (f *Func) Source() string         { return f.source }

func (f *Func) Load(ctx context.Context, l Loader) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, l)
}

var (
	registryMu sync.Mutex
	registered []Unit
)

// Register adds u to the process-wide set of Go units, typically from an
// init function in a fixtures package. The calling file becomes the unit's
// source for *Func units without one, so editing the file invalidates cached
// backups and the unit is found when its directory is scanned.
func Register(u Unit) {
	RegisterSkip(u, 1)
}

// RegisterSkip is Register for wrappers: skip counts the stack frames
// between the wrapper's caller and RegisterSkip, as in runtime.Caller.
func RegisterSkip(u Unit, skip int) {
	if f, ok := u.(*Func); ok && f.source == "" {
		if _, file, _, ok := runtime.Caller(skip + 1); ok {
			f.source = filepath.Clean(file)
		}
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = append(registered, u)
}

// Registered returns the units added with Register, in registration order.
func Registered() []Unit {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Unit, len(registered))
	copy(out, registered)
	return out
}

// resetRegistered clears the process-wide registry. Tests only.
func resetRegistered() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = nil
}
