package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage the shared memory store",
}

var memoryTags string

var memoryAddCmd = &cobra.Command{
	Use:   "add TYPE BODY",
	Short: "Add a memory entry",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var tags []string
		if memoryTags != "" {
			tags = strings.Split(memoryTags, ",")
		}
		entry, err := memory.New(repoRoot).Add(args[0], args[1], tags, time.Now().UTC())
		if err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		diag.Info("added %s", entry.ID)
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory entries",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := memory.New(repoRoot).List()
		if err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		for _, e := range entries {
			diag.Plain("%s [%s] %s: %s", e.ID, e.Type, strings.Join(e.Tags, ","), e.Body)
		}
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search memory entries by substring",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := memory.New(repoRoot).Search(args[0])
		if err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		for _, e := range entries {
			diag.Plain("%s [%s]: %s", e.ID, e.Type, e.Body)
		}
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a memory entry by ID",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := memory.New(repoRoot).Delete(args[0]); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		diag.Info("deleted %s", args[0])
	},
}

func init() {
	memoryAddCmd.Flags().StringVar(&memoryTags, "tags", "", "comma-separated tags")
	memoryCmd.AddCommand(memoryAddCmd, memoryListCmd, memorySearchCmd, memoryDeleteCmd)
	rootCmd.AddCommand(memoryCmd)
}
