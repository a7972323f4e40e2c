// Package storage provides object backends used to mirror the backup cache
// between machines: a local directory (shared volume, CI cache) or an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sentinel errors.
var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidName = errors.New("invalid object name")
)

// Backend is the interface for mirror backends. Names are flat object names
// such as "test_<fingerprint>"; backends map them onto their own layout.
type Backend interface {
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ValidateName rejects names that could escape the backend root.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > 512 {
		return fmt.Errorf("%w: longer than 512 characters", ErrInvalidName)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q must be a plain file name", ErrInvalidName, name)
	}
	return nil
}
