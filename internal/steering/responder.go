// Package steering implements the Steering Channel (spec.md §4.7): two
// ingress paths (terminal keystrokes, chat messages) that both append
// journal events, plus the ask-human blocking responder the loop
// controller polls during WaitingOnHuman.
package steering

import (
	"context"
	"time"

	"github.com/ralph-run/ralph/internal/journal"
)

// JournalResponder implements loop.HumanResponder by polling the journal
// for a human.response event, grounded in
// original_source/crates/ralph-telegram/src/service.rs's
// wait_for_response (track file position, poll every second, stop on
// response or timeout).
type JournalResponder struct {
	journal      *journal.Journal
	pollInterval time.Duration
}

func NewJournalResponder(j *journal.Journal, pollInterval time.Duration) *JournalResponder {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &JournalResponder{journal: j, pollInterval: pollInterval}
}

// WaitForResponse blocks until a human.response event is appended to the
// journal, the timeout elapses, or ctx is canceled. questionID is not
// used: any human.response appended after the call ends the wait.
func (r *JournalResponder) WaitForResponse(ctx context.Context, questionID string, timeout time.Duration) (journal.Event, bool) {
	_, pos, _ := r.journal.ReadFrom(0)
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		events, newPos, err := r.journal.ReadFrom(pos)
		if err == nil {
			pos = newPos
			for _, e := range events {
				if e.Topic == "human.response" {
					return e, true
				}
			}
		}

		if !time.Now().Before(deadline) {
			return journal.Event{}, false
		}

		select {
		case <-ctx.Done():
			return journal.Event{}, false
		case <-ticker.C:
		}
	}
}
