package worktree

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegisterAndList(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)

	e := LoopEntry{ID: "amber-otter", Branch: "amber-otter", Path: dir, PID: 1, Status: StatusRunning, StartedAt: time.Now()}
	if err := r.Register(e); err != nil {
		t.Fatal(err)
	}

	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "amber-otter" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestUpdateStatusAndRunningEntries(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)

	if err := r.Register(LoopEntry{ID: "a", Status: StatusRunning}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(LoopEntry{ID: "b", Status: StatusRunning}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateStatus("a", StatusCompleted); err != nil {
		t.Fatal(err)
	}

	running, err := r.RunningEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].ID != "b" {
		t.Fatalf("expected only b running, got %+v", running)
	}
}

func TestListToleratesMalformedRegistry(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(r.path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := r.List()
	if err != nil {
		t.Fatalf("expected malformed registry to be tolerated, got error: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected empty entries for malformed registry, got %+v", entries)
	}
}

func TestDeregisterRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	if err := r.Register(LoopEntry{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Deregister("a"); err != nil {
		t.Fatal(err)
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty registry, got %+v", entries)
	}
}
