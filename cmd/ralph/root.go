package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/termhook"
)

var (
	repoRoot    string
	configPath  string
	quietFlag   bool
	verboseFlag bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "A multi-agent AI-coding orchestrator",
	Long: `ralph drives AI coding-assistant CLIs through bounded iterations under
a "hat" persona model, recording every step to an append-only journal.

Core commands:
  run     Boot a loop (primary, parallel worktree, or --continue) and run it
  emit    Append an event to the current journal from outside a loop
  loops   Inspect and control concurrently running loops
  memory  Manage the shared memory store
  tasks   Manage the task ledger
  version Print the ralph version`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyVerbosity()
	},
}

// Execute adds all child commands to the root command and runs it. A
// panic anywhere under a command is caught by termhook so a crash never
// leaves the terminal in raw mode (spec.md §9).
func Execute() {
	defer termhook.Recover(bestEffortRepoRoot())

	if err := rootCmd.Execute(); err != nil {
		diag.Error("%v", err)
		os.Exit(1)
	}
}

func init() {
	cwd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo", cwd, "repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the loop's YAML config (default: <repo>/.ralph/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&quietFlag, "quiet", false, "suppress routine output (also RALPH_QUIET=1)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output (also RALPH_VERBOSE=1)")
}

// applyVerbosity wires --quiet/--verbose and their RALPH_QUIET/
// RALPH_VERBOSE env fallbacks into internal/diag (spec.md §6).
func applyVerbosity() {
	diag.SetQuiet(quietFlag || os.Getenv("RALPH_QUIET") == "1")
	diag.SetVerbose(verboseFlag || os.Getenv("RALPH_VERBOSE") == "1")
}

func bestEffortRepoRoot() string {
	if repoRoot != "" {
		return repoRoot
	}
	cwd, _ := os.Getwd()
	return cwd
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return repoRoot + "/.ralph/config.yaml"
}
