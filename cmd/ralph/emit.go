package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/journal"
)

var emitCmd = &cobra.Command{
	Use:   "emit TOPIC [PAYLOAD]",
	Short: "Append an event to the current journal from outside a loop",
	Long: `emit lets a human or external script inject an event into whichever
journal the current-events marker points at, without going through a
running loop's router (spec.md's human steering channel).`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runEmit(args); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(emitCmd)
}

func runEmit(args []string) error {
	topic := args[0]

	var payload interface{} = map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			// Not valid JSON: treat the raw string as a "text" field rather
			// than failing the whole command.
			payload = map[string]any{"text": args[1]}
		}
	}

	journalPath, err := journal.ReadCurrentEventsMarker(repoRoot)
	if err != nil || journalPath == "" {
		return fmt.Errorf("no current journal for %s: run `ralph run` first", repoRoot)
	}

	j, err := journal.Open(journalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	ev, err := journal.NewEvent(topic, payload)
	if err != nil {
		return err
	}
	if err := j.Append(ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
