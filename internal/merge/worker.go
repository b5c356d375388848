// Package merge implements the subordinate merge loop (spec.md §4.6:
// "the primary loop, between iterations, dequeues merge requests and
// spawns a subordinate merge loop whose sole job is to bring the
// worktree branch into the primary branch"). Grounded in
// _examples/steveyegge-vc/internal/git/git.go's rebase/merge plumbing,
// now exercised through internal/vcs.
package merge

import (
	"context"
	"fmt"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/vcs"
	"github.com/ralph-run/ralph/internal/worktree"
)

// Config configures merge-queue servicing. It deliberately does not
// import internal/loop: ResolveConflicts is injected by the caller.
// cmd/ralph's `loops merge` leaves it nil, so a conflicted rebase there
// marks the loop Crashed. The merge-role guard against forking lives in
// worktree.Manager.Spawn (ErrMergeLoopCannotFork).
type Config struct {
	Git        *vcs.Git
	RepoRoot   string
	BaseBranch string
	Registry   *worktree.Registry

	// ResolveConflicts runs an agent-backed conflict resolution pass
	// and is expected to leave the rebase in repoPath either completed
	// or aborted. Optional; nil means conflicted merges are left for a
	// human (status Crashed).
	ResolveConflicts func(ctx context.Context, req worktree.MergeRequest, conflicted []string) error
}

// Service drains one dequeued merge request: rebase the worktree
// branch onto the base, merge on success, or hand conflicts to
// ResolveConflicts (spec.md §4.6: "resolving conflicts if the agent is
// asked to").
func (c Config) Service(ctx context.Context, req worktree.MergeRequest) error {
	result, err := c.Git.RebaseOnto(ctx, req.Path, c.BaseBranch)
	if err != nil && (result == nil || !result.HasConflicts) {
		c.markStatus(req.LoopID, worktree.StatusCrashed)
		return fmt.Errorf("merge loop: rebase failed for %s: %w", req.LoopID, err)
	}

	if result.HasConflicts {
		diag.Warn("merge loop: %s has conflicts in %v", req.LoopID, result.ConflictedFiles)
		if c.ResolveConflicts == nil {
			c.markStatus(req.LoopID, worktree.StatusCrashed)
			return fmt.Errorf("merge loop: %s has unresolved conflicts: %v", req.LoopID, result.ConflictedFiles)
		}
		if err := c.ResolveConflicts(ctx, req, result.ConflictedFiles); err != nil {
			_ = c.Git.AbortRebase(ctx, req.Path)
			c.markStatus(req.LoopID, worktree.StatusCrashed)
			return fmt.Errorf("merge loop: conflict resolution failed for %s: %w", req.LoopID, err)
		}
	}

	if err := c.Git.MergeToMain(ctx, c.RepoRoot, c.BaseBranch, req.Branch); err != nil {
		c.markStatus(req.LoopID, worktree.StatusCrashed)
		return fmt.Errorf("merge loop: merge to %s failed for %s: %w", c.BaseBranch, req.LoopID, err)
	}

	c.markStatus(req.LoopID, worktree.StatusMerged)
	diag.Info("merge loop: %s merged into %s", req.LoopID, c.BaseBranch)
	return nil
}

// Drain services every request currently queued, stopping at the first
// error so a stuck request doesn't starve diag output with repeated
// failures in the same call.
func (c Config) Drain(ctx context.Context, queue *worktree.MergeQueue) (serviced int, err error) {
	for {
		req, ok, err := queue.Dequeue()
		if err != nil {
			return serviced, fmt.Errorf("dequeue merge request: %w", err)
		}
		if !ok {
			return serviced, nil
		}
		if err := c.Service(ctx, req); err != nil {
			return serviced, err
		}
		serviced++
	}
}

func (c Config) markStatus(loopID string, status worktree.Status) {
	if c.Registry == nil {
		return
	}
	if err := c.Registry.UpdateStatus(loopID, status); err != nil {
		diag.Warn("merge loop: failed to update registry status for %s: %v", loopID, err)
	}
}
