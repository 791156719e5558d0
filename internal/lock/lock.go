package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// LockHeldError is returned when another daemon already owns the instance.
type LockHeldError struct {
	PID   int
	Since time.Time
	Path  string
}

func (e *LockHeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("instance lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("instance lock held by PID %d since %s (%s)",
		e.PID, e.Since.Format(time.RFC3339), e.Path)
}

// Lock is an acquired instance lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive flock on <instanceDir>/LOCK and records the
// owner's PID and start time in it.
func Acquire(instanceDir string) (*Lock, error) {
	lockPath := filepath.Join(instanceDir, fileName)

	if err := os.MkdirAll(instanceDir, 0700); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		held := &LockHeldError{Path: lockPath}
		if data, readErr := os.ReadFile(lockPath); readErr == nil {
			held.PID, held.Since = parse(string(data))
		}
		return nil, held
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Holder reports the PID and start time recorded by the current lock owner.
// It returns os.ErrNotExist when no daemon holds the instance.
func Holder(instanceDir string) (int, time.Time, error) {
	data, err := os.ReadFile(filepath.Join(instanceDir, fileName))
	if err != nil {
		return 0, time.Time{}, err
	}
	pid, since := parse(string(data))
	if pid == 0 {
		return 0, time.Time{}, errors.New("lock file has no pid")
	}
	return pid, since, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before close so a reader never sees a stale owner.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parse(content string) (pid int, since time.Time) {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "time="); ok {
			since, _ = time.Parse(time.RFC3339, after)
		}
	}
	return pid, since
}
