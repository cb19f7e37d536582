package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubNow returns a function that returns a fixed time for deterministic tests.
func stubNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// stubPIDAlive returns a function that returns a fixed value for pid checks.
func stubPIDAlive(alive bool) func(int) bool {
	return func(int) bool { return alive }
}

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestLock(root string, alive bool) ScaffoldLock {
	return ScaffoldLock{
		Root:       root,
		StaleAfter: 15 * time.Minute,
		Now:        stubNow(testNow),
		IsPIDAlive: stubPIDAlive(alive),
	}
}

func writeLockFile(t *testing.T, root string, info LockInfo) string {
	t.Helper()
	path := filepath.Join(root, FileName)
	data, _ := json.Marshal(info)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write lock file: %v", err)
	}
	return path
}

func TestScaffoldLock_WritesLockFile(t *testing.T) {
	root := t.TempDir()
	l := newTestLock(root, true)

	unlock, err := l.Lock("new -n 7")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer unlock()

	data, err := os.ReadFile(filepath.Join(root, ".labforge.lock"))
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("failed to parse lock file: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if !info.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", info.CreatedAt, testNow)
	}
	if info.Cmd != "new -n 7" {
		t.Errorf("Cmd = %q", info.Cmd)
	}

	stat, err := os.Stat(l.Path())
	if err != nil {
		t.Fatalf("failed to stat lock file: %v", err)
	}
	if stat.Mode().Perm() != 0600 {
		t.Errorf("lock file permissions = %o, want 0600", stat.Mode().Perm())
	}
}

func TestScaffoldLock_ErrLockedOnContention(t *testing.T) {
	root := t.TempDir()
	l := newTestLock(root, true)

	unlockA, err := l.Lock("cmd-a")
	if err != nil {
		t.Fatalf("Lock A failed: %v", err)
	}
	defer unlockA()

	_, err = l.Lock("cmd-b")
	errLocked, ok := err.(*ErrLocked)
	if !ok {
		t.Fatalf("expected *ErrLocked, got %T", err)
	}
	if errLocked.Root != root {
		t.Errorf("Root = %q, want %q", errLocked.Root, root)
	}
	if errLocked.Info == nil || errLocked.Info.Cmd != "cmd-a" {
		t.Errorf("Info = %+v, want holder cmd-a", errLocked.Info)
	}
}

func TestScaffoldLock_StaleLocksAreBroken(t *testing.T) {
	tests := []struct {
		name  string
		info  LockInfo
		alive bool
	}{
		{"dead pid", LockInfo{PID: 999999, CreatedAt: testNow, Cmd: "old"}, false},
		{"too old", LockInfo{PID: 12345, CreatedAt: testNow.Add(-16 * time.Minute), Cmd: "old"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := writeLockFile(t, root, tt.info)

			unlock, err := newTestLock(root, tt.alive).Lock("new-cmd")
			if err != nil {
				t.Fatalf("Lock() failed (should break stale lock): %v", err)
			}
			defer unlock()

			data, _ := os.ReadFile(path)
			if !strings.Contains(string(data), `"new-cmd"`) {
				t.Errorf("lock file not replaced: %s", data)
			}
		})
	}
}

func TestScaffoldLock_UnreadableLockFile_MtimeFallback(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)

	t.Run("recent garbage file is treated as locked", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
			t.Fatal(err)
		}
		recent := testNow.Add(-time.Minute)
		if err := os.Chtimes(path, recent, recent); err != nil {
			t.Fatal(err)
		}
		_, err := newTestLock(root, true).Lock("cmd")
		if _, ok := err.(*ErrLocked); !ok {
			t.Fatalf("expected *ErrLocked, got %T: %v", err, err)
		}
	})

	t.Run("old garbage file is treated as stale", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
			t.Fatal(err)
		}
		old := testNow.Add(-time.Hour)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
		unlock, err := newTestLock(root, true).Lock("cmd")
		if err != nil {
			t.Fatalf("Lock() failed (should steal stale garbage lock): %v", err)
		}
		defer unlock()
	})
}

func TestScaffoldLock_UnlockIdempotent(t *testing.T) {
	root := t.TempDir()
	l := newTestLock(root, true)

	unlock, err := l.Lock("cmd")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("first unlock failed: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("second unlock failed: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("lock file should not exist after unlock")
	}
}

func TestScaffoldLock_MissingRoot(t *testing.T) {
	l := newTestLock(filepath.Join(t.TempDir(), "absent"), true)
	_, err := l.Lock("cmd")
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if _, ok := err.(*ErrLocked); ok {
		t.Errorf("missing root reported as locked: %v", err)
	}
}

func TestScaffoldLock_ConcurrencySanity(t *testing.T) {
	root := t.TempDir()
	l := newTestLock(root, true)

	unlockA, err := l.Lock("cmd-a")
	if err != nil {
		t.Fatalf("Lock A failed: %v", err)
	}
	defer unlockA()

	var wg sync.WaitGroup
	wg.Add(1)
	errChan := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := l.Lock("cmd-b")
		errChan <- err
	}()

	select {
	case err := <-errChan:
		if _, ok := err.(*ErrLocked); !ok {
			t.Errorf("expected *ErrLocked, got %T: %v", err, err)
		}
	case <-time.After(time.Second):
		t.Error("Lock B should have returned quickly, not blocked")
	}
	wg.Wait()
}

func TestNewScaffoldLock_DefaultValues(t *testing.T) {
	l := NewScaffoldLock("/labs")
	if l.Root != "/labs" {
		t.Errorf("Root = %q", l.Root)
	}
	if l.StaleAfter != 15*time.Minute {
		t.Errorf("StaleAfter = %v", l.StaleAfter)
	}
	if l.Now == nil || l.IsPIDAlive == nil {
		t.Error("Now and IsPIDAlive should be set")
	}
	if l.Path() != filepath.Join("/labs", ".labforge.lock") {
		t.Errorf("Path = %q", l.Path())
	}
}

func TestErrLocked_Error(t *testing.T) {
	withInfo := &ErrLocked{
		Root: "/labs",
		Info: &LockInfo{PID: 12345, CreatedAt: testNow, Cmd: "new"},
		Path: "/labs/.labforge.lock",
	}
	msg := withInfo.Error()
	for _, want := range []string{"/labs", "12345", "/labs/.labforge.lock", "2026-03-02T09:30:00Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	without := &ErrLocked{Root: "/labs", Path: "/labs/.labforge.lock"}
	if msg := without.Error(); !strings.Contains(msg, "/labs/.labforge.lock") {
		t.Errorf("message %q missing path", msg)
	}
}
