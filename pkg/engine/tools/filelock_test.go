package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	lock := newFileLock(path)

	release, err := lock.acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
	release()
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after release, stat err=%v", err)
	}
}

func TestFileLock_SecondAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	first := newFileLock(path)
	release, err := first.acquire()
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		second := newFileLock(path)
		r2, err := second.acquire()
		if err != nil {
			t.Errorf("second acquire failed: %v", err)
			close(done)
			return
		}
		r2()
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	release()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestFileLock_EvictsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	lockPath := path + ".lock"
	if err := os.WriteFile(lockPath, nil, 0644); err != nil {
		t.Fatalf("failed to seed stale lock: %v", err)
	}
	stale := time.Now().Add(-2 * lockStaleAfter)
	if err := os.Chtimes(lockPath, stale, stale); err != nil {
		t.Fatalf("failed to backdate lock mtime: %v", err)
	}

	lock := newFileLock(path)
	release, err := lock.acquire()
	if err != nil {
		t.Fatalf("expected stale lock to be evicted, got err: %v", err)
	}
	release()
}
