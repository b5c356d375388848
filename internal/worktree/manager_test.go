package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ralph-run/ralph/internal/ralphapi"
	"github.com/ralph-run/ralph/internal/vcs"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestSpawnCreatesWorktreeAndRegistersNothingYet(t *testing.T) {
	repo := initRepo(t)
	git, err := vcs.New(context.Background())
	if err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	mgr := NewManager(git, repo, "")

	spawned, err := mgr.Spawn(context.Background(), "test prompt", SharedPaths{})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := os.Stat(spawned.Path); err != nil {
		t.Fatalf("expected worktree directory to exist: %v", err)
	}

	entries, err := mgr.Registry().List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no registry entries before explicit Register, got %+v", entries)
	}
}

func TestSpawnRefusedForMergeRole(t *testing.T) {
	repo := initRepo(t)
	git, err := vcs.New(context.Background())
	if err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	mgr := NewManager(git, repo, "merge")

	_, err = mgr.Spawn(context.Background(), "test", SharedPaths{})
	if err != ralphapi.ErrMergeLoopCannotFork {
		t.Fatalf("expected ErrMergeLoopCannotFork, got %v", err)
	}
}
