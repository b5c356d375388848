package worktree

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ralph-run/ralph/internal/ralphapi"
	"github.com/ralph-run/ralph/internal/vcs"
)

var adjectives = []string{
	"amber", "brisk", "calm", "dapper", "eager", "fleet", "gentle", "hushed",
	"idle", "jaunty", "keen", "lucid", "mellow", "nimble", "orderly", "plucky",
	"quiet", "rustic", "steady", "tidy", "unhurried", "vivid", "wry", "zesty",
}

var nouns = []string{
	"otter", "falcon", "heron", "badger", "lynx", "sparrow", "marten", "vole",
	"wren", "newt", "gecko", "finch", "mole", "ferret", "swift", "kite",
	"stoat", "tern", "shrew", "grebe", "ibis", "mink", "osprey", "plover",
}

// NewID derives a fresh memorable ID (adjective-noun form, spec.md §3/§4.6).
func NewID() (string, error) {
	adj, err := randomElement(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := randomElement(nouns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", adj, noun), nil
}

func randomElement(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("generate random index: %w", err)
	}
	return words[n.Int64()], nil
}

// SharedPaths names the shared-state files a worktree loop symlinks into
// its own workspace (spec.md §4.6).
type SharedPaths struct {
	MemoryFile  string
	SpecsDir    string
	TaskLedger  string
}

// Manager spawns and removes worktree loops.
type Manager struct {
	git      *vcs.Git
	repoRoot string
	registry *Registry
	role     string
}

func NewManager(git *vcs.Git, repoRoot, role string) *Manager {
	return &Manager{git: git, repoRoot: repoRoot, registry: NewRegistry(repoRoot), role: role}
}

// Spawned describes a freshly created worktree loop's workspace.
type Spawned struct {
	ID     string
	Path   string
	Branch string
}

// Spawn creates a new worktree under .worktrees/<id>, symlinks shared
// state into it, and writes a context file describing the loop. It does
// not register the entry in loops.json — callers register only after
// preflight checks pass (spec.md §4.6).
func (m *Manager) Spawn(ctx context.Context, promptBrief string, shared SharedPaths) (Spawned, error) {
	if m.role == "merge" {
		return Spawned{}, ralphapi.ErrMergeLoopCannotFork
	}

	id, err := NewID()
	if err != nil {
		return Spawned{}, err
	}
	worktreePath := filepath.Join(m.repoRoot, ".worktrees", id)

	if err := m.git.CreateWorktree(ctx, m.repoRoot, worktreePath, id); err != nil {
		return Spawned{}, fmt.Errorf("spawn worktree %s: %w", id, err)
	}

	if err := m.symlinkShared(worktreePath, shared); err != nil {
		_ = m.git.RemoveWorktree(ctx, m.repoRoot, worktreePath)
		return Spawned{}, fmt.Errorf("symlink shared state into %s: %w", worktreePath, err)
	}

	contextFile := filepath.Join(worktreePath, ".ralph", "context.txt")
	if err := os.MkdirAll(filepath.Dir(contextFile), 0o755); err != nil {
		_ = m.git.RemoveWorktree(ctx, m.repoRoot, worktreePath)
		return Spawned{}, fmt.Errorf("create context dir: %w", err)
	}
	body := fmt.Sprintf("loop-id: %s\nbranch: %s\nprompt: %s\nprimary-repo: %s\n", id, id, promptBrief, m.repoRoot)
	if err := os.WriteFile(contextFile, []byte(body), 0o644); err != nil {
		_ = m.git.RemoveWorktree(ctx, m.repoRoot, worktreePath)
		return Spawned{}, fmt.Errorf("write context file: %w", err)
	}

	return Spawned{ID: id, Path: worktreePath, Branch: id}, nil
}

func (m *Manager) symlinkShared(worktreePath string, shared SharedPaths) error {
	links := map[string]string{
		shared.MemoryFile: filepath.Join(worktreePath, ".ralph", "agent", "memories.md"),
		shared.SpecsDir:   filepath.Join(worktreePath, "specs"),
		shared.TaskLedger: filepath.Join(worktreePath, ".ralph", "agent", "tasks.jsonl"),
	}
	for target, link := range links {
		if target == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			return err
		}
		_ = os.Remove(link)
		if err := os.Symlink(target, link); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
		}
	}
	return nil
}

// Discard removes a worktree's directory and its loops.json entry; the
// git branch is left in place. This is the only
// path that deletes a completed worktree loop's workspace (spec.md
// §4.11: "the worktree is not deleted here... cleanup is the primary's
// responsibility through an explicit discard action").
func (m *Manager) Discard(ctx context.Context, id string) error {
	worktreePath := filepath.Join(m.repoRoot, ".worktrees", id)
	if err := m.git.RemoveWorktree(ctx, m.repoRoot, worktreePath); err != nil {
		return err
	}
	return m.registry.Deregister(id)
}

func (m *Manager) Registry() *Registry { return m.registry }
