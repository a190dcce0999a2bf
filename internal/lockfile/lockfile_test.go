package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	h := ReadHolder(filepath.Join(dir, LockFileName))
	if h.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", h.PID, os.Getpid())
	}
	if h.Started.IsZero() || !h.Running {
		t.Errorf("holder = %+v", h)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock should fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) || lockErr.Holder.PID != os.Getpid() {
		t.Errorf("lock error holder = %+v", lockErr)
	}
	if !strings.Contains(err.Error(), "rm "+filepath.Join(dir, LockFileName)) {
		t.Errorf("error should explain how to clear the lock: %s", err)
	}
	// The failed attempt must not wipe the holder record.
	if h := ReadHolder(filepath.Join(dir, LockFileName)); h.PID != os.Getpid() {
		t.Errorf("holder record lost after failed attempt: %+v", h)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		content string
		pid     int
		started bool
	}{
		{"pid=1234\nstarted=2025-03-10T09:00:00Z\n", 1234, true},
		{"pid=42\n", 42, false},
		{"pid=abc\n", 0, false},
		{"garbage", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		h := parseHolder(tt.content)
		if h.PID != tt.pid || h.Started.IsZero() == tt.started {
			t.Errorf("parseHolder(%q) = %+v", tt.content, h)
		}
	}
	if (Holder{}).String() != "unknown process" {
		t.Error("zero holder should be unknown")
	}
}
