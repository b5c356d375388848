package steering

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-run/ralph/internal/journal"
)

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestTerminalQueueThenFlushAppendsGuidance(t *testing.T) {
	j := openTestJournal(t)
	term, err := NewTerminal(TerminalConfig{Journal: j, LoopID: "main"})
	if err != nil {
		t.Fatal(err)
	}

	term.Queue("watch the retry budget")
	term.Queue("")
	if err := term.Flush(); err != nil {
		t.Fatal(err)
	}

	events, err := j.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Topic != "human.guidance" {
		t.Fatalf("expected exactly one human.guidance event, got %+v", events)
	}
}

func TestTerminalInjectAppendsImmediately(t *testing.T) {
	j := openTestJournal(t)
	term, err := NewTerminal(TerminalConfig{Journal: j, LoopID: "main"})
	if err != nil {
		t.Fatal(err)
	}

	if err := term.inject("switch to postgres"); err != nil {
		t.Fatal(err)
	}

	events, err := j.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Topic != "human.guidance" {
		t.Fatalf("expected one injected guidance event, got %+v", events)
	}
}

func TestJournalResponderReturnsOnResponse(t *testing.T) {
	j := openTestJournal(t)
	r := NewJournalResponder(j, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev, ok := r.WaitForResponse(context.Background(), "main", time.Second)
		if !ok {
			t.Error("expected a response before timeout")
		}
		if ev.Topic != "human.response" {
			t.Errorf("unexpected topic: %s", ev.Topic)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	ev, err := journal.NewEvent("human.response", "postgres")
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(ev); err != nil {
		t.Fatal(err)
	}
	<-done
}

func TestJournalResponderTimesOut(t *testing.T) {
	j := openTestJournal(t)
	r := NewJournalResponder(j, 10*time.Millisecond)

	_, ok := r.WaitForResponse(context.Background(), "main", 40*time.Millisecond)
	if ok {
		t.Fatal("expected timeout with no response appended")
	}
}
