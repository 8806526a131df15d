// Package pidfile keeps two prune runs from touching the library at once.
// The lock is an OS advisory lock on a file that also records the owner's PID.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another instance is running")

// LockedError names the process holding the lock when it can be read.
type LockedError struct {
	Path string
	PID  int // 0 when unknown
}

func (e *LockedError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s (pid %d, lock %s)", ErrLocked, e.PID, e.Path)
	}
	return fmt.Sprintf("%s (lock %s)", ErrLocked, e.Path)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// PIDFile is a held lock. Close releases it.
type PIDFile struct {
	path string
	file *os.File
}

// New creates and locks the file at path and writes the current PID into it.
// An empty path returns (nil, nil); a nil *PIDFile is safe to Close.
func New(path string) (*PIDFile, error) {
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			pid, _ := ReadPID(path)
			return nil, &LockedError{Path: path, PID: pid}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if err := writePID(f); err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, err
	}

	return &PIDFile{path: path, file: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seeking lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("writing pid: %w", err)
	}
	return f.Sync()
}

// Close releases the lock and removes the file.
func (p *PIDFile) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	f := p.file
	p.file = nil

	_ = unlockFile(f)
	err := f.Close()
	if rmErr := os.Remove(p.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Path returns the lock file path, or "" for a nil PIDFile.
func (p *PIDFile) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// ReadPID reads the PID recorded in a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s: %d", path, pid)
	}
	return pid, nil
}
