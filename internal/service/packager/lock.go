package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/dynaso/internal/logger"
)

// LockFilename marks that a packager is running against a work directory.
const LockFilename = "dynaso-packager.lock"

// lockDirMode is used when the work directory does not exist yet.
const lockDirMode os.FileMode = 0o755

// errPackagerRunning indicates that another packager holds the work directory.
var errPackagerRunning = errors.New("another packager is running")

// acquireLock writes a PID marker into workDir. A marker left by a process
// that no longer exists is replaced. The returned function removes the marker.
func acquireLock(ctx context.Context, workDir string) (func(), error) {
	if err := os.MkdirAll(workDir, lockDirMode); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	path := filepath.Join(workDir, LockFilename)

	if err := checkExistingLock(ctx, path); err != nil {
		return nil, err
	}

	marker, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errPackagerRunning
		}

		return nil, fmt.Errorf("create lock: %w", err)
	}

	_, err = marker.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := marker.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("write lock: %w", err)
	}

	return func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Failed to remove lock", "path", path, "error", err)
		}
	}, nil
}

// checkExistingLock fails if path names a live process and removes it otherwise.
func checkExistingLock(ctx context.Context, path string) error {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err == nil && pid != os.Getpid() && isProcessAlive(pid) {
		logger.ErrorKV(ctx, "Work directory is locked", "path", path, "pid", pid)

		return fmt.Errorf("%w: pid %d", errPackagerRunning, pid)
	}

	logger.InfoKV(ctx, "Replacing stale lock", "path", path)

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock: %w", err)
	}

	return nil
}

// isProcessAlive looks pid up in the process table.
// Lookup failures count as alive so a lock is never stolen blindly.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return true
	}

	return process != nil
}
