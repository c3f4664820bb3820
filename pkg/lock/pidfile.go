package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another daemon instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// ErrNotRunning is returned when no live daemon instance can be found.
var ErrNotRunning = errors.New("no running instance found")

// Guard holds an exclusive advisory lock on the daemon pid file for the
// lifetime of the process. The pid stays readable so other invocations can
// signal the running daemon.
type Guard struct {
	path string
	fl   *flock.Flock
}

// Acquire takes the pid file lock and records the current process id in it.
// A held lock means another instance is alive; a stale pid file whose owner
// has exited does not block acquisition because the advisory lock dies with
// its holder.
func Acquire(path string) (*Guard, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("pid file path must not be empty")
	}

	fl := flock.New(trimmed)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pid file %s: %w", trimmed, err)
	}
	if !locked {
		if pid, readErr := readPID(trimmed); readErr == nil {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}

	if err := os.WriteFile(trimmed, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write pid file %s: %w", trimmed, err)
	}

	return &Guard{path: trimmed, fl: fl}, nil
}

// Release drops the lock and removes the pid file.
func (g *Guard) Release() error {
	if g == nil || g.fl == nil {
		return nil
	}
	removeErr := os.Remove(g.path)
	if removeErr != nil && os.IsNotExist(removeErr) {
		removeErr = nil
	}
	if err := g.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock pid file %s: %w", g.path, err)
	}
	return removeErr
}

// Path reports the pid file location the guard protects.
func (g *Guard) Path() string {
	if g == nil {
		return ""
	}
	return g.path
}

// RunningPID reports the pid of the live instance holding the pid file.
// It returns ErrNotRunning when the file is absent, unreadable, or its
// lock is no longer held.
func RunningPID(path string) (int, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return 0, ErrNotRunning
	}

	pid, err := readPID(trimmed)
	if err != nil {
		return 0, ErrNotRunning
	}

	fl := flock.New(trimmed)
	locked, err := fl.TryLock()
	if err != nil {
		return 0, fmt.Errorf("probe pid file %s: %w", trimmed, err)
	}
	if locked {
		// Nobody holds the lock: the recorded pid is stale.
		_ = fl.Unlock()
		return 0, ErrNotRunning
	}
	return pid, nil
}

// StartedAt reports when the live instance took the pid file, derived from
// the file's modification time (Acquire rewrites the file as its final step).
// Returns ErrNotRunning when no live instance holds the lock.
func StartedAt(path string) (time.Time, error) {
	if _, err := RunningPID(path); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(strings.TrimSpace(path))
	if err != nil {
		return time.Time{}, ErrNotRunning
	}
	return info.ModTime(), nil
}

// Signal delivers sig to the live instance recorded in the pid file.
func Signal(path string, sig syscall.Signal) (int, error) {
	pid, err := RunningPID(path)
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return 0, ErrNotRunning
		}
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s does not contain a pid", path)
	}
	return pid, nil
}
