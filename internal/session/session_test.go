package session

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDetect(t *testing.T) {
	t.Setenv("TERM", "xterm-test")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := Detect(now)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if s.Term != "xterm-test" || s.User == "" || s.Host == "" || !s.Started.Equal(now) {
		t.Errorf("Detect() = %+v", s)
	}
	if _, err := uuid.Parse(s.RecordingID); err != nil {
		t.Errorf("recording id %q is not a uuid: %v", s.RecordingID, err)
	}

	again, _ := Detect(now)
	if again.RecordingID == s.RecordingID {
		t.Error("two detections share a recording id")
	}
}

func TestReadSessionID(t *testing.T) {
	dir := t.TempDir()
	write := func(content string) string {
		p := filepath.Join(dir, strconv.Itoa(len(content))+"-sessionid")
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	if id, err := ReadSessionID(write("42\n")); err != nil || id != 42 {
		t.Errorf("ReadSessionID(42) = %d, %v", id, err)
	}
	if _, err := ReadSessionID(write("4294967295")); !errors.Is(err, ErrNoSession) {
		t.Errorf("ReadSessionID(unset) error = %v, want ErrNoSession", err)
	}
	if _, err := ReadSessionID(write("abc")); err == nil {
		t.Error("ReadSessionID(abc) should fail")
	}
}

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, 7)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := os.Stat(LockPath(dir, 7)); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	_, err = Acquire(dir, 7)
	var lerr *LockedError
	if !errors.Is(err, ErrAlreadyLocked) || !errors.As(err, &lerr) || lerr.Owner != os.Getpid() {
		t.Fatalf("second Acquire() error = %v, want ErrAlreadyLocked by this pid", err)
	}

	if _, err := Acquire(dir, 8); err != nil {
		t.Errorf("Acquire() of another session error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, err := os.Stat(LockPath(dir, 7)); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Release()")
	}

	l2, err := Acquire(dir, 7)
	if err != nil {
		t.Fatalf("Acquire() after Release() error = %v", err)
	}
	_ = l2.Release()
}

func TestLock_StaleOwnerIsTakenOver(t *testing.T) {
	dir := t.TempDir()

	// A process that has exited leaves its pid behind.
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run helper process: %v", err)
	}
	dead := cmd.Process.Pid
	if Alive(dead) {
		t.Skip("helper pid was reused")
	}
	if err := os.WriteFile(LockPath(dir, 3), []byte(strconv.Itoa(dead)), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir, 3)
	if err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}
	defer l.Release()

	data, _ := os.ReadFile(l.Path())
	if got, _ := strconv.Atoi(string(data[:len(data)-1])); got != os.Getpid() {
		t.Errorf("lock owner = %q, want %d", data, os.Getpid())
	}
}

func TestLock_FreshEmptyFileIsHeld(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(LockPath(dir, 5), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Acquire(dir, 5); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("Acquire() over fresh empty lock error = %v", err)
	}

	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(LockPath(dir, 5), old, old); err != nil {
		t.Fatal(err)
	}
	l, err := Acquire(dir, 5)
	if err != nil {
		t.Fatalf("Acquire() over abandoned empty lock error = %v", err)
	}
	_ = l.Release()
}

func TestRelease_LeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, 9)
	if err != nil {
		t.Fatal(err)
	}
	// Someone else took the lock over.
	if err := os.WriteFile(l.Path(), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(l.Path()); err != nil {
		t.Errorf("Release() removed a lock it no longer owns")
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false")
	}
	if Alive(0) || Alive(-1) {
		t.Error("Alive() true for non-positive pid")
	}
}
