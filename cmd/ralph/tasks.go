package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task ledger",
}

var tasksAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add an open task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := tasks.New(repoRoot).Add(args[0], time.Now().UTC())
		if err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		diag.Info("added %s", id)
	},
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the latest status of every task",
	Run: func(cmd *cobra.Command, args []string) {
		records, err := tasks.New(repoRoot).LatestByID()
		if err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		for _, r := range records {
			diag.Plain("%s [%s] %s", r.ID, r.Status, r.Title)
		}
	},
}

var tasksCloseCmd = &cobra.Command{
	Use:   "close ID",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := tasks.New(repoRoot).SetStatus(args[0], tasks.StatusDone, time.Now().UTC()); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
			return
		}
		diag.Info("closed %s", args[0])
	},
}

func init() {
	tasksCmd.AddCommand(tasksAddCmd, tasksListCmd, tasksCloseCmd)
	rootCmd.AddCommand(tasksCmd)
}
