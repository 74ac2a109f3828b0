package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
	if !strings.HasPrefix(string(data), "pid=") {
		t.Errorf("lock file content = %q, want pid= prefix", string(data))
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	second, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	second.Release()
}

func TestExtractPID(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{"pid=1234\n", 1234},
		{"pid=7", 7},
		{"no pid here", 0},
		{"pid=", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := extractPID(tc.content); got != tc.want {
			t.Errorf("extractPID(%q) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestLockErrorMentionsLockPath(t *testing.T) {
	err := &LockError{LockPath: "/tmp/state/screenpipe.lock", ExistingInfo: "PID 42 (running)"}
	msg := err.Error()
	if !strings.Contains(msg, "/tmp/state/screenpipe.lock") {
		t.Errorf("error message missing lock path: %q", msg)
	}
	if !strings.Contains(msg, "PID 42") {
		t.Errorf("error message missing holder info: %q", msg)
	}
}
