// Package lockfile guards the state directory against concurrent VoxPrep
// instances.
//
// Two processes sharing one SQLite state directory corrupt each other's
// sessions, so startup takes an exclusive flock on a lock file. The kernel
// releases the flock when the process exits, gracefully or not, which keeps
// crashes from wedging the directory.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "voxprep.lock"

// Lock represents an acquired state-directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock takes an exclusive, non-blocking lock on the state directory.
// When another process already holds it, the returned LockError describes
// the holder.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lockPath", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readHolderInfo(lockPath)
		slog.Error("lockfile.AcquireLock: lock held by another instance", "lockPath", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, HolderInfo: holder, Cause: err}
	}

	if _, err := fmt.Fprintf(file, "pid=%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.AcquireLock: failed to sync lock file", "error", err, "lockPath", lockPath)
	}

	slog.Info("lockfile.AcquireLock: lock acquired", "lockPath", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Release drops the flock and removes the lock file. Safe to call more than
// once.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("lockfile.Release: failed to release flock", "error", err, "lockPath", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("lockfile.Release: failed to close lock file", "error", err, "lockPath", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		// Not critical: the flock itself is gone.
		slog.Warn("lockfile.Release: failed to remove lock file", "error", err, "lockPath", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("lockfile.Release: lock released", "lockPath", l.path)
	return nil
}

// LockError reports a lock already held by another process.
type LockError struct {
	LockPath   string
	HolderInfo string
	Cause      error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another VoxPrep instance is already using this state directory (lock file: %s)", e.LockPath)
	if e.HolderInfo != "" {
		msg += fmt.Sprintf("; held by %s", e.HolderInfo)
	}
	msg += fmt.Sprintf(". If no other instance is running, remove the stale lock with: rm %s", e.LockPath)
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readHolderInfo describes the process named in an existing lock file, for
// error messages. Best effort only.
func readHolderInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}

	if pid := extractPID(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running, stale lock)", pid)
	}
	return content
}

// extractPID pulls the PID out of "pid=NNNN" lock file content.
func extractPID(content string) int {
	const prefix = "pid="
	idx := strings.Index(content, prefix)
	if idx == -1 {
		return 0
	}
	start := idx + len(prefix)
	end := start
	for end < len(content) && content[end] >= '0' && content[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	pid, err := strconv.Atoi(content[start:end])
	if err != nil {
		return 0
	}
	return pid
}

// isProcessRunning probes a PID with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
