package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ralph-run/ralph/internal/vcs"
	"github.com/ralph-run/ralph/internal/worktree"
)

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "initial")
	return dir
}

func TestServiceMergesCleanRebase(t *testing.T) {
	repo := initRepo(t)
	git, err := vcs.New(context.Background())
	if err != nil {
		t.Skipf("git unavailable: %v", err)
	}

	worktreePath := filepath.Join(repo, "..", "feature-branch")
	if err := git.CreateWorktree(context.Background(), repo, worktreePath, "feature/add-notes"); err != nil {
		t.Fatalf("create worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(worktreePath, "NOTES.md"), []byte("notes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, worktreePath, "add", "-A")
	run(t, worktreePath, "commit", "-m", "add notes")

	registry := worktree.NewRegistry(repo)
	if err := registry.Register(worktree.LoopEntry{ID: "feature-branch", Branch: "feature/add-notes", Path: worktreePath, Status: worktree.StatusRunning}); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Git: git, RepoRoot: repo, BaseBranch: "main", Registry: registry}
	req := worktree.MergeRequest{LoopID: "feature-branch", Branch: "feature/add-notes", Path: worktreePath}

	if err := cfg.Service(context.Background(), req); err != nil {
		t.Fatalf("service: %v", err)
	}

	entries, err := registry.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != worktree.StatusMerged {
		t.Fatalf("expected merged status, got %+v", entries)
	}

	if _, err := os.Stat(filepath.Join(repo, "NOTES.md")); err != nil {
		t.Fatalf("expected NOTES.md to be merged into main: %v", err)
	}
}

func TestServiceWithoutResolverFailsOnConflict(t *testing.T) {
	repo := initRepo(t)
	git, err := vcs.New(context.Background())
	if err != nil {
		t.Skipf("git unavailable: %v", err)
	}

	worktreePath := filepath.Join(repo, "..", "conflicting-branch")
	if err := git.CreateWorktree(context.Background(), repo, worktreePath, "feature/conflict"); err != nil {
		t.Fatalf("create worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(worktreePath, "README.md"), []byte("worktree change\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, worktreePath, "add", "-A")
	run(t, worktreePath, "commit", "-m", "worktree edit")

	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("main change\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, repo, "add", "-A")
	run(t, repo, "commit", "-m", "main edit")

	registry := worktree.NewRegistry(repo)
	if err := registry.Register(worktree.LoopEntry{ID: "conflicting-branch", Branch: "feature/conflict", Path: worktreePath, Status: worktree.StatusRunning}); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Git: git, RepoRoot: repo, BaseBranch: "main", Registry: registry}
	req := worktree.MergeRequest{LoopID: "conflicting-branch", Branch: "feature/conflict", Path: worktreePath}

	if err := cfg.Service(context.Background(), req); err == nil {
		t.Fatal("expected conflict to surface as an error with no resolver configured")
	}

	entries, err := registry.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != worktree.StatusCrashed {
		t.Fatalf("expected crashed status after unresolved conflict, got %+v", entries)
	}
}
