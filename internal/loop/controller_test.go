package loop

import (
	"context"
	"testing"

	"github.com/ralph-run/ralph/internal/budget"
	"github.com/ralph-run/ralph/internal/completion"
	"github.com/ralph-run/ralph/internal/hat"
	"github.com/ralph-run/ralph/internal/invoker"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/router"
	"github.com/ralph-run/ralph/internal/termination"
)

type memJournal struct {
	events []journal.Event
}

func (m *memJournal) Append(e journal.Event) error {
	m.events = append(m.events, e)
	return nil
}

// scriptedInvoker returns one Result per call, in order; extra calls repeat
// the last result.
type scriptedInvoker struct {
	results []invoker.Result
	calls   int
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ string, _ int, _ invoker.Prompt, _ invoker.Options) (invoker.Result, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx], nil
}

func newTestRouter(t *testing.T, j *memJournal, startTopic string) (*router.Router, *hat.Registry) {
	t.Helper()
	builder := hat.Hat{Name: "builder", Subscriptions: []string{startTopic, "build.done"}, Publications: []string{"build.done"}, Instructions: "build it"}
	reg, err := hat.NewRegistry([]hat.Hat{builder})
	if err != nil {
		t.Fatal(err)
	}
	return router.New(j, reg, 0), reg
}

var selfPerpetuatingEvent = journal.MarkerMatch{Topic: "build.done", Payload: "ok"}

func samplePrompt(h *hat.Hat, iteration int, ev journal.Event) invoker.Prompt {
	return invoker.Prompt{OrchestrationHeader: "header", HatInstructions: "do work"}
}

func TestCompletionPromiseMetAfterDualConfirmation(t *testing.T) {
	j := &memJournal{}
	r, _ := newTestRouter(t, j, "task.start")

	inv := &scriptedInvoker{results: []invoker.Result{
		{RawOutput: "working... DONE", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
		{RawOutput: "still DONE", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
	}}

	ctrl := New(Config{
		LoopID:             "test-loop",
		StartTopic:         "task.start",
		PromiseToken:       "DONE",
		Backend:            inv,
		Router:             r,
		Journal:            j,
		PromptBuilder:      samplePrompt,
		CompletionDetector: completion.NewDetector("DONE"),
		MaxIterations:      10,
	})

	reason := ctrl.Run(context.Background())
	if _, ok := reason.(termination.CompletionPromiseMet); !ok {
		t.Fatalf("expected CompletionPromiseMet, got %v", reason)
	}
	if inv.calls != 2 {
		t.Fatalf("expected exactly 2 invocations (dual confirmation), got %d", inv.calls)
	}
}

func TestMaxIterationsSafeguardFires(t *testing.T) {
	j := &memJournal{}
	r, _ := newTestRouter(t, j, "task.start")

	inv := &scriptedInvoker{results: []invoker.Result{
		{RawOutput: "no promise here", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
	}}

	ctrl := New(Config{
		LoopID:             "test-loop",
		StartTopic:         "task.start",
		PromiseToken:       "DONE",
		Backend:            inv,
		Router:             r,
		Journal:            j,
		PromptBuilder:      samplePrompt,
		CompletionDetector: completion.NewDetector("DONE"),
		MaxIterations:      3,
	})

	reason := ctrl.Run(context.Background())
	mi, ok := reason.(termination.MaxIterations)
	if !ok {
		t.Fatalf("expected MaxIterations, got %v", reason)
	}
	if mi.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", mi.Limit)
	}
	if reason.ExitCode() != 2 {
		t.Fatalf("expected exit code 2, got %d", reason.ExitCode())
	}
}

func TestIdleTimeoutSafeguardFires(t *testing.T) {
	j := &memJournal{}
	r, _ := newTestRouter(t, j, "task.start")

	inv := &scriptedInvoker{results: []invoker.Result{
		{IdleTimedOut: true, ExitErr: errSignal{}},
	}}

	ctrl := New(Config{
		LoopID:             "test-loop",
		StartTopic:         "task.start",
		PromiseToken:       "DONE",
		Backend:            inv,
		Router:             r,
		Journal:            j,
		PromptBuilder:      samplePrompt,
		CompletionDetector: completion.NewDetector("DONE"),
		MaxIterations:      10,
	})

	reason := ctrl.Run(context.Background())
	if _, ok := reason.(termination.IdleTimeout); !ok {
		t.Fatalf("expected IdleTimeout, got %v", reason)
	}
	if reason.ExitCode() != 2 {
		t.Fatalf("expected exit code 2, got %d", reason.ExitCode())
	}
}

func TestBudgetExceededSafeguardFires(t *testing.T) {
	j := &memJournal{}
	r, _ := newTestRouter(t, j, "task.start")

	inv := &scriptedInvoker{results: []invoker.Result{
		{RawOutput: "no promise here", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
	}}

	tracker := budget.NewTracker(budget.Config{Enabled: true, MaxTokensPerHour: 1})

	ctrl := New(Config{
		LoopID:             "test-loop",
		StartTopic:         "task.start",
		PromiseToken:       "DONE",
		Backend:            inv,
		Router:             r,
		Journal:            j,
		PromptBuilder:      samplePrompt,
		CompletionDetector: completion.NewDetector("DONE"),
		Budget:             tracker,
		MaxIterations:      10,
	})

	reason := ctrl.Run(context.Background())
	be, ok := reason.(termination.BudgetExceeded)
	if !ok {
		t.Fatalf("expected BudgetExceeded, got %v", reason)
	}
	if reason.ExitCode() != 2 {
		t.Fatalf("expected exit code 2, got %d", reason.ExitCode())
	}
	if be.Reason == "" {
		t.Fatal("expected a non-empty budget-exceeded reason")
	}

	var sawUsage, sawExceeded bool
	for _, ev := range j.events {
		switch ev.Topic {
		case "cost.usage":
			sawUsage = true
		case "cost.budget_exceeded":
			sawExceeded = true
		}
	}
	if !sawUsage || !sawExceeded {
		t.Fatalf("expected both cost.usage and cost.budget_exceeded journaled, got events: %+v", j.events)
	}
}

type errSignal struct{}

func (errSignal) Error() string { return "signal" }

func TestCandidateThatDoesNotReconfirmReturnsToIterating(t *testing.T) {
	j := &memJournal{}
	r, _ := newTestRouter(t, j, "task.start")

	inv := &scriptedInvoker{results: []invoker.Result{
		{RawOutput: "DONE appears once", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
		{RawOutput: "but not here", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
		{RawOutput: "nor here", Events: []journal.MarkerMatch{selfPerpetuatingEvent}},
	}}

	ctrl := New(Config{
		LoopID:             "test-loop",
		StartTopic:         "task.start",
		PromiseToken:       "DONE",
		Backend:            inv,
		Router:             r,
		Journal:            j,
		PromptBuilder:      samplePrompt,
		CompletionDetector: completion.NewDetector("DONE"),
		MaxIterations:      3,
	})

	reason := ctrl.Run(context.Background())
	if _, ok := reason.(termination.MaxIterations); !ok {
		t.Fatalf("expected MaxIterations after the candidate failed to reconfirm, got %v", reason)
	}
	if inv.calls != 3 {
		t.Fatalf("expected all 3 iterations consumed, got %d", inv.calls)
	}
}
