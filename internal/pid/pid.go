package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/beamlog/internal/errors"
)

const (
	pidFile = "beamlog.pid"
)

// DefaultPath is used when no PID file is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to path. It fails with
// ErrAlreadyRunning while the process recorded in an existing file is alive.
func Write(path string) error {
	errFactory := errors.New()
	pid := os.Getpid()

	if _, err := os.Stat(path); err == nil {
		// PID file exists, check if the process is running
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		other, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		process, err := os.FindProcess(other)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		if other != pid && process.Signal(syscall.Signal(0)) == nil {
			return errFactory.WithData(errors.ErrAlreadyRunning, other)
		}
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file at path.
func Remove(path string) error {
	errFactory := errors.New()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
