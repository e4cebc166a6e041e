package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultLockDir holds session lock files.
const DefaultLockDir = "/run/tlog"

// emptyLockGrace is how long a lock file may stay empty (created but owner
// not yet written) before it is considered abandoned.
const emptyLockGrace = 10 * time.Second

// ErrAlreadyLocked is returned when a live process holds the session lock.
var ErrAlreadyLocked = errors.New("session already locked")

// LockedError names the process holding the lock.
type LockedError struct {
	Session uint32
	Owner   int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("session %d already locked by pid %d", e.Session, e.Owner)
}

func (e *LockedError) Unwrap() error { return ErrAlreadyLocked }

// Lock is a held session lock. Release it on every exit path.
type Lock struct {
	path string
	pid  int
	once sync.Once
	err  error
}

// Acquire creates the lock file for session id in dir. A lock whose owner
// process is gone is stale and is taken over.
func Acquire(dir string, id uint32) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	path := LockPath(dir, id)
	pid := os.Getpid()

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(pid) + "\n")
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("writing lock file %s: %w", path, errors.Join(werr, cerr))
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}

		owner, held := holder(path)
		if held {
			return nil, &LockedError{Session: id, Owner: owner}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock %s: %w", path, err)
		}
	}
	return nil, &LockedError{Session: id}
}

// LockPath returns the lock file path for session id.
func LockPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("session.%d.lock", id))
}

// Release removes the lock file if this process still owns it. It is
// idempotent.
func (l *Lock) Release() error {
	l.once.Do(func() {
		owner, _ := readOwner(l.path)
		if owner != l.pid {
			return
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.err = fmt.Errorf("removing lock file %s: %w", l.path, err)
		}
	})
	return l.err
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// holder reports the owner of an existing lock file and whether the lock is
// still held.
func holder(path string) (int, bool) {
	owner, err := readOwner(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false
		}
		// Unreadable or half-written: trust it until the grace period ends.
		info, serr := os.Stat(path)
		if serr != nil {
			return 0, false
		}
		return 0, time.Since(info.ModTime()) < emptyLockGrace
	}
	return owner, Alive(owner)
}

func readOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, errors.New("empty lock file")
	}
	return strconv.Atoi(s)
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
