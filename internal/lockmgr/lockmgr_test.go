package lockmgr

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ralph-run/ralph/internal/ralphapi"
)

func TestTryAcquireThenRelease(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	if err := m.TryAcquire("fix the bug", ""); err != nil {
		t.Fatalf("expected first acquire to succeed: %v", err)
	}
	if _, err := os.Stat(m.Path()); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(m.Path()); !os.IsNotExist(err) {
		t.Fatal("expected lock file removed after release")
	}
}

func TestTryAcquireContentionWhenHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	if err := m.TryAcquire("first", ""); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// A second manager pointed at the same dir sees the live PID (this
	// test process) and must refuse.
	m2 := New(dir)
	err := m2.TryAcquire("second", "")
	if !errors.Is(err, ralphapi.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
}

func TestTryAcquireOverwritesStaleLock(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	// Write a lock file with a PID that can't be alive.
	stale := `{"pid": 999999, "hostname": "` + mustHostname(t) + `", "started_at": "2020-01-01T00:00:00Z"}`
	if err := os.MkdirAll(filepath.Dir(m.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.Path(), []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.TryAcquire("new owner", ""); err != nil {
		t.Fatalf("expected stale lock to be overwritten, got %v", err)
	}
}

func TestTryAcquireConcurrentContendersOnlyOneWins(t *testing.T) {
	dir := t.TempDir()

	const contenders = 8
	var wg sync.WaitGroup
	results := make([]error, contenders)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := New(dir)
			start.Wait()
			results[i] = m.TryAcquire("racer", "")
		}(i)
	}
	start.Done()
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ralphapi.ErrLockContention) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner among %d concurrent acquirers, got %d", contenders, wins)
	}
}

func mustHostname(t *testing.T) string {
	t.Helper()
	h, err := os.Hostname()
	if err != nil {
		t.Fatal(err)
	}
	return h
}
