package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/merge"
	"github.com/ralph-run/ralph/internal/vcs"
	"github.com/ralph-run/ralph/internal/worktree"
)

var loopsCmd = &cobra.Command{
	Use:   "loops",
	Short: "Inspect and control concurrently running loops",
}

var loopsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered loops from loops.json",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := worktree.NewRegistry(repoRoot).List()
		if err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			diag.Plain("no registered loops")
			return
		}
		for _, e := range entries {
			diag.Plain("%-20s %-10s %-20s pid=%-8d %s", e.ID, e.Status, e.Branch, e.PID, e.PromptBrief)
		}
	},
}

var loopsStopCmd = &cobra.Command{
	Use:   "stop LOOP_ID",
	Short: "Write the stop marker for a running loop",
	Long: `stop writes .ralph/stop-requested under the given loop's worktree (or
the primary repo root for "primary"), which the loop controller honors
at the next safeguard check (spec.md §4.5).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoopsStop(args[0]); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

var loopsFollowCmd = &cobra.Command{
	Use:   "follow LOOP_ID",
	Short: "Print a loop's journal as it stands and exit (does not wait for new lines)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoopsFollow(cmd.Context(), args[0]); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

var loopsMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Drain the merge queue, rebasing and merging worktree branches",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoopsMerge(cmd.Context()); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

var loopsDiscardCmd = &cobra.Command{
	Use:   "discard LOOP_ID",
	Short: "Remove a worktree loop's workspace and deregister it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoopsDiscard(cmd.Context(), args[0]); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

var loopsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Discard every Merged or Discarded worktree left on disk",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoopsPrune(cmd.Context()); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	loopsCmd.AddCommand(loopsListCmd, loopsStopCmd, loopsFollowCmd, loopsMergeCmd, loopsDiscardCmd, loopsPruneCmd)
	rootCmd.AddCommand(loopsCmd)
}

func loopWorkRoot(loopID string) (string, error) {
	if loopID == "primary" {
		return repoRoot, nil
	}
	entries, err := worktree.NewRegistry(repoRoot).List()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.ID == loopID {
			return e.Path, nil
		}
	}
	return "", fmt.Errorf("no registered loop %q", loopID)
}

func runLoopsStop(loopID string) error {
	workRoot, err := loopWorkRoot(loopID)
	if err != nil {
		return err
	}
	markerDir := filepath.Join(workRoot, ".ralph")
	if err := os.MkdirAll(markerDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", markerDir, err)
	}
	return os.WriteFile(filepath.Join(markerDir, "stop-requested"), nil, 0o644)
}

func runLoopsFollow(ctx context.Context, loopID string) error {
	workRoot, err := loopWorkRoot(loopID)
	if err != nil {
		return err
	}
	journalPath, err := journal.ReadCurrentEventsMarker(workRoot)
	if err != nil || journalPath == "" {
		return fmt.Errorf("no current journal for loop %q", loopID)
	}
	f, err := os.Open(journalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fmt.Println(scanner.Text())
	}
	return scanner.Err()
}

func runLoopsMerge(ctx context.Context) error {
	git, err := vcs.New(ctx)
	if err != nil {
		return err
	}
	registry := worktree.NewRegistry(repoRoot)
	queue := worktree.NewMergeQueue(repoRoot)
	cfg := merge.Config{
		Git:        git,
		RepoRoot:   repoRoot,
		BaseBranch: "main",
		Registry:   registry,
	}
	serviced, err := cfg.Drain(ctx, queue)
	if err != nil {
		return err
	}
	diag.Info("merge queue drained: %d request(s) serviced", serviced)
	return nil
}

func runLoopsDiscard(ctx context.Context, loopID string) error {
	git, err := vcs.New(ctx)
	if err != nil {
		return err
	}
	mgr := worktree.NewManager(git, repoRoot, "")
	return mgr.Discard(ctx, loopID)
}

func runLoopsPrune(ctx context.Context) error {
	git, err := vcs.New(ctx)
	if err != nil {
		return err
	}
	mgr := worktree.NewManager(git, repoRoot, "")
	entries, err := mgr.Registry().List()
	if err != nil {
		return err
	}
	pruned := 0
	for _, e := range entries {
		if e.Status != worktree.StatusMerged && e.Status != worktree.StatusDiscarded {
			continue
		}
		if err := mgr.Discard(ctx, e.ID); err != nil {
			diag.Warn("prune %s: %v", e.ID, err)
			continue
		}
		pruned++
	}
	diag.Info("pruned %d loop(s)", pruned)
	return nil
}
