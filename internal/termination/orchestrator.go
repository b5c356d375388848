package termination

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/lockmgr"
	"github.com/ralph-run/ralph/internal/worktree"
)

// Config carries everything Finalize needs to orchestrate the
// Finalizing state (spec.md §4.11). The loop controller has already
// appended loop.end by the time Finalize runs.
type Config struct {
	RepoRoot     string
	Role         string // "primary" | "worktree" | "merge"
	LoopID       string
	Branch       string
	WorktreePath string
	PromptBrief  string
	JournalPath  string
	Lock         *lockmgr.Manager    // non-nil only for the primary
	MergeQueue   *worktree.MergeQueue // the primary's queue; used by worktree loops
	Args         []string            // original argv, for restart exec-replace
}

// Finalize performs every Finalizing-state side effect spec.md §4.11
// describes beyond the loop.end append the controller already did:
// unlinking current-events if it pointed at this run, releasing the
// primary lock, deleting the restart marker, enqueueing a merge request
// for worktree loops, and exec-replacing the process on restart.
//
// Returns the process exit code derived from reason (spec.md §6), or
// an error if the process should restart instead of exit (the caller
// never observes the returned code in that case; restartProcess either
// replaces the process or returns an error).
func Finalize(cfg Config, reason Reason) (int, error) {
	unlinkCurrentEventsIfOurs(cfg.RepoRoot, cfg.JournalPath)

	restartMarker := filepath.Join(cfg.RepoRoot, ".ralph", "restart-requested")
	hadRestartMarker := markerExists(restartMarker)
	if hadRestartMarker {
		if err := os.Remove(restartMarker); err != nil && !os.IsNotExist(err) {
			diag.Warn("loop %s: failed to remove restart marker: %v", cfg.LoopID, err)
		}
	}

	if cfg.Role == "primary" && cfg.Lock != nil {
		if err := cfg.Lock.Release(); err != nil {
			diag.Warn("loop %s: failed to release lock: %v", cfg.LoopID, err)
		}
	}

	if cfg.Role == "worktree" {
		if cfg.MergeQueue == nil {
			diag.Warn("loop %s: worktree loop finalizing with no merge queue configured, request dropped", cfg.LoopID)
		} else {
			req := worktree.MergeRequest{
				LoopID:      cfg.LoopID,
				Branch:      cfg.Branch,
				Path:        cfg.WorktreePath,
				EnqueuedAt:  time.Now().UTC(),
				PromptBrief: cfg.PromptBrief,
			}
			if err := cfg.MergeQueue.Enqueue(req); err != nil {
				diag.Warn("loop %s: failed to enqueue merge request: %v", cfg.LoopID, err)
			}
		}
	}

	if _, ok := reason.(RestartRequested); ok {
		if err := restartProcess(cfg.Args); err != nil {
			return 0, fmt.Errorf("restart requested but exec-replace failed: %w", err)
		}
		// restartProcess only returns on failure; unreachable on success.
	}

	return reason.ExitCode(), nil
}

func markerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func unlinkCurrentEventsIfOurs(repoRoot, journalPath string) {
	current, err := journal.ReadCurrentEventsMarker(repoRoot)
	if err != nil {
		return
	}
	absJournal, err := filepath.Abs(journalPath)
	if err != nil || current != absJournal {
		return
	}
	markerPath := filepath.Join(repoRoot, ".ralph", "current-events")
	if err := os.Remove(markerPath); err != nil && !os.IsNotExist(err) {
		diag.Warn("failed to unlink current-events marker: %v", err)
	}
}
