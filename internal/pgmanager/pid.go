package pgmanager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidFile records the postmaster PID so the next run can terminate a server
// that outlived its parent.
type pidFile string

func (p pidFile) write(pid int) error {
	return os.WriteFile(string(p), []byte(strconv.Itoa(pid)), 0o644)
}

// read returns 0 when the file does not exist.
func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file: %w", err)
	}
	return pid, nil
}

func (p pidFile) remove() error {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// reapOrphan terminates the recorded process if it is still alive, escalating
// to SIGKILL after five seconds, and removes the file.
func (p pidFile) reapOrphan(logger *slog.Logger) {
	pid, err := p.read()
	if err != nil || pid == 0 {
		return
	}
	defer func() { _ = p.remove() }()

	proc, err := os.FindProcess(pid)
	if err != nil || !alive(proc) {
		logger.Info("removed stale postgres pid file", "pid", pid)
		return
	}

	logger.Warn("terminating orphaned postgres", "pid", pid)
	_ = proc.Signal(syscall.SIGTERM)
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		time.Sleep(200 * time.Millisecond)
		if !alive(proc) {
			return
		}
	}
	logger.Warn("force-killing orphaned postgres", "pid", pid)
	_ = proc.Signal(syscall.SIGKILL)
}

// alive probes proc with signal 0.
func alive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// postmasterPID reads the PID from the first line of postmaster.pid.
func postmasterPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(string(data), "\n")
	return strconv.Atoi(strings.TrimSpace(first))
}
