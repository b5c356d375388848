// Package vcs wraps the git CLI operations the Lock & Worktree Manager
// and Termination & Merge Orchestrator need: creating/removing worktrees
// and rebasing a worktree branch onto the primary. Adapted from
// _examples/steveyegge-vc/internal/git/git.go, trimmed from its
// issue-review domain (CommitOptions.CoAuthors, conflict-resolution
// payloads for an AI reviewer) to ralph's worktree/merge-loop domain.
package vcs

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git wraps the git CLI, verified present at construction time.
type Git struct {
	gitPath string
}

func New(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	if err := exec.CommandContext(ctx, gitPath, "version").Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}
	return &Git{gitPath: gitPath}, nil
}

// CreateWorktree adds a worktree at worktreePath on a new branch named
// branch, checked out from the repo's current HEAD (spec.md §4.6:
// "create a git worktree under <repo>/.worktrees/<id> on a new branch
// <id>").
func (g *Git) CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "add", "-b", branch, worktreePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree add failed in %s: %w (output: %s)", repoPath, err, string(out))
	}
	return nil
}

// RemoveWorktree removes a worktree, matching an explicit `discard`
// action (spec.md §4.6: "the worktree is not deleted here").
func (g *Git) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "remove", "--force", worktreePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree remove failed in %s: %w (output: %s)", repoPath, err, string(out))
	}
	return nil
}

// ListWorktrees returns worktree path -> branch name.
func (g *Git) ListWorktrees(ctx context.Context, repoPath string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "worktree", "list", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list failed in %s: %w", repoPath, err)
	}

	worktrees := make(map[string]string)
	var currentPath, currentBranch string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "worktree "):
			currentPath = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			currentBranch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "" && currentPath != "":
			if currentBranch != "" {
				worktrees[currentPath] = currentBranch
			}
			currentPath, currentBranch = "", ""
		}
	}
	if currentPath != "" && currentBranch != "" {
		worktrees[currentPath] = currentBranch
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse worktree list: %w", err)
	}
	return worktrees, nil
}

// RebaseResult mirrors the teacher's shape, trimmed to what the merge
// loop needs to decide whether to ask the agent to resolve conflicts.
type RebaseResult struct {
	Success         bool
	HasConflicts    bool
	ConflictedFiles []string
	ErrorMessage    string
}

// RebaseOnto rebases the current branch in repoPath onto baseBranch,
// used by the merge loop to bring a worktree branch up to date with the
// primary before merging (spec.md §4.6).
func (g *Git) RebaseOnto(ctx context.Context, repoPath, baseBranch string) (*RebaseResult, error) {
	result := &RebaseResult{}
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rebase", baseBranch)
	output, err := cmd.CombinedOutput()
	if err == nil {
		result.Success = true
		return result, nil
	}

	hasConflicts, conflictErr := g.hasConflicts(ctx, repoPath)
	if conflictErr != nil {
		result.ErrorMessage = fmt.Sprintf("rebase failed and conflict check failed: %v", conflictErr)
		return result, fmt.Errorf("git rebase failed in %s: %w", repoPath, err)
	}
	if hasConflicts {
		result.HasConflicts = true
		result.ConflictedFiles = g.conflictedFiles(ctx, repoPath)
		result.ErrorMessage = fmt.Sprintf("rebase failed with conflicts: %s", string(output))
		return result, nil
	}
	result.ErrorMessage = fmt.Sprintf("rebase failed: %v\noutput: %s", err, string(output))
	return result, fmt.Errorf("git rebase failed in %s: %w", repoPath, err)
}

// AbortRebase aborts an in-progress rebase.
func (g *Git) AbortRebase(ctx context.Context, repoPath string) error {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rebase", "--abort")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git rebase --abort failed in %s: %w (output: %s)", repoPath, err, string(out))
	}
	return nil
}

func (g *Git) hasConflicts(ctx context.Context, repoPath string) (bool, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--name-only", "--diff-filter=U")
	output, err := cmd.Output()
	if err != nil {
		return false, nil
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

func (g *Git) conflictedFiles(ctx context.Context, repoPath string) []string {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--name-only", "--diff-filter=U")
	output, err := cmd.Output()
	if err != nil {
		return nil
	}
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// MergeToMain fast-forwards baseBranch to branch in repoPath with
// `git merge --ff-only` (invoked by the primary after a merge loop
// reports a clean rebase); it fails when a fast-forward is not possible.
func (g *Git) MergeToMain(ctx context.Context, repoPath, baseBranch, branch string) error {
	checkout := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "checkout", baseBranch)
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s failed in %s: %w (output: %s)", baseBranch, repoPath, err, string(out))
	}
	merge := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "merge", "--ff-only", branch)
	if out, err := merge.CombinedOutput(); err != nil {
		return fmt.Errorf("git merge %s failed in %s: %w (output: %s)", branch, repoPath, err, string(out))
	}
	return nil
}
