package termination

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/lockmgr"
	"github.com/ralph-run/ralph/internal/worktree"
)

func TestFinalizePrimaryReleasesLockAndClearsRestartMarker(t *testing.T) {
	repoRoot := t.TempDir()
	lock := lockmgr.New(repoRoot)
	if err := lock.TryAcquire("test run", "primary"); err != nil {
		t.Fatal(err)
	}

	restartMarker := filepath.Join(repoRoot, ".ralph", "restart-requested")
	if err := os.MkdirAll(filepath.Dir(restartMarker), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(restartMarker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	journalPath := filepath.Join(repoRoot, ".ralph", "events-1.jsonl")
	if err := journal.WriteCurrentEventsMarker(repoRoot, journalPath); err != nil {
		t.Fatal(err)
	}

	code, err := Finalize(Config{
		RepoRoot:    repoRoot,
		Role:        "primary",
		LoopID:      "main",
		JournalPath: journalPath,
		Lock:        lock,
	}, MaxIterations{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}

	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, stat err: %v", err)
	}
	if _, err := os.Stat(restartMarker); !os.IsNotExist(err) {
		t.Fatalf("expected restart marker removed, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repoRoot, ".ralph", "current-events")); !os.IsNotExist(err) {
		t.Fatalf("expected current-events marker unlinked, stat err: %v", err)
	}
}

func TestFinalizeWorktreeEnqueuesMergeRequest(t *testing.T) {
	repoRoot := t.TempDir()
	mq := worktree.NewMergeQueue(repoRoot)

	code, err := Finalize(Config{
		RepoRoot:     repoRoot,
		Role:         "worktree",
		LoopID:       "brave-otter",
		Branch:       "ralph/brave-otter",
		WorktreePath: filepath.Join(repoRoot, "..", "brave-otter"),
		JournalPath:  filepath.Join(repoRoot, ".ralph", "events-1.jsonl"),
		MergeQueue:   mq,
	}, CompletionPromiseMet{})
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	req, ok, err := mq.Dequeue()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || req.LoopID != "brave-otter" {
		t.Fatalf("expected a merge request for brave-otter, got %+v ok=%v", req, ok)
	}
}
