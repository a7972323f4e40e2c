package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// command describes one invocation of a dump or restore tool.
type command struct {
	bin    string
	args   []string
	env    []string // appended to os.Environ
	stdin  io.Reader
	stdout io.Writer
}

// run executes c and converts a failed exit into an *ExecutionError carrying
// the captured standard error.
func run(ctx context.Context, c command) error {
	if c.bin == "" {
		return fmt.Errorf("backup: binary is required")
	}

	cmd := exec.CommandContext(ctx, c.bin, c.args...) //nolint:gosec // argv is built from configuration, no shell involved
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.Stdin = c.stdin
	cmd.Stdout = c.stdout

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ExecutionError{
			Command:  filepath.Base(c.bin),
			ExitCode: code,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return nil
}

// dumpToFile runs c with stdout written to file. Output goes to a sibling
// ".partial" file that is renamed into place only after a clean exit, so file
// either holds a complete dump or does not exist.
func dumpToFile(ctx context.Context, c command, file string) error {
	partial := file + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("creating %s: %w", partial, err)
	}

	c.stdout = f
	runErr := run(ctx, c)
	closeErr := f.Close()

	if runErr != nil {
		_ = os.Remove(partial)
		return runErr
	}
	if closeErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("closing %s: %w", partial, closeErr)
	}
	if err := os.Rename(partial, file); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("moving dump into place: %w", err)
	}
	return nil
}

// restoreFromFile runs c with stdin read from file.
func restoreFromFile(ctx context.Context, c command, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file, err)
	}
	defer f.Close()

	c.stdin = f
	return run(ctx, c)
}
