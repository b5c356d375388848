// Package loop implements the Loop Controller (spec.md §4.5): the
// bounded outer state machine driving Journal, Hat Registry, Event
// Router, Agent Invoker, and Completion Detector through
// Boot → Priming → Iterating ⇄ WaitingOnHuman → Completing/Aborting →
// Finalizing → Exited. Grounded in the ticker-driven, "log error but
// continue" idiom of
// _examples/steveyegge-vc/internal/executor/executor_event_loop.go,
// generalized from issue processing to hat activations.
package loop

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ralph-run/ralph/internal/budget"
	"github.com/ralph-run/ralph/internal/completion"
	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/hat"
	"github.com/ralph-run/ralph/internal/invoker"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/judge"
	"github.com/ralph-run/ralph/internal/ralphapi"
	"github.com/ralph-run/ralph/internal/router"
	"github.com/ralph-run/ralph/internal/termination"
)

// State is one node of the loop controller's state machine.
type State string

const (
	StateBoot           State = "Boot"
	StatePriming        State = "Priming"
	StateIterating      State = "Iterating"
	StateWaitingOnHuman State = "WaitingOnHuman"
	StateCompleting     State = "Completing"
	StateAborting       State = "Aborting"
	StateFinalizing     State = "Finalizing"
	StateExited         State = "Exited"
)

// Journal is the subset of *journal.Journal the controller needs.
type Journal interface {
	Append(e journal.Event) error
}

// Invoker is the subset of *invoker.Invoker the controller needs,
// narrowed to an interface so tests can supply a fake backend.
type Invoker interface {
	Invoke(ctx context.Context, loopID string, iteration int, prompt invoker.Prompt, opts invoker.Options) (invoker.Result, error)
}

// PromptBuilder constructs the prompt for one hat activation (spec.md
// §4.4 step 1). Left to the caller so it can pull in scratchpad/memory
// content without this package depending on those stores directly.
type PromptBuilder func(h *hat.Hat, iteration int, ev journal.Event) invoker.Prompt

// HumanResponder answers WaitingOnHuman by blocking for a human.response
// event within a timeout, implemented by internal/steering.
type HumanResponder interface {
	WaitForResponse(ctx context.Context, questionID string, timeout time.Duration) (journal.Event, bool)
}

// ScratchpadReader reads the current scratchpad contents for the
// completion detector (spec.md §4.10); the orchestrator never writes it.
type ScratchpadReader func() string

// SessionRecorder opens a session-replay sink for one iteration
// (SPEC_FULL.md §4.4.b), e.g. *internal/recorder.Recorder. Returning nil
// disables recording for that iteration.
type SessionRecorder func(iteration int) io.WriteCloser

// Config bundles everything the controller needs to run a loop to
// completion. Boot (lock acquisition, journal open) happens before Run
// is called; Run begins logically at Priming.
type Config struct {
	LoopID             string
	RepoRoot           string // used only to locate marker files
	StartTopic         string
	PromiseToken       string
	Backend            Invoker
	Router             *router.Router
	Journal            Journal
	PromptBuilder      PromptBuilder
	ReadScratchpad     ScratchpadReader
	CompletionDetector *completion.Detector
	Budget             *budget.Tracker // optional
	Judge              *judge.Judge    // optional
	Human              HumanResponder  // optional; nil disables WaitingOnHuman blocking
	Recorder           SessionRecorder // optional; nil disables session recording
	MaxIterations      int             // 0 disables
	MaxRuntime         time.Duration   // 0 disables
	IdleTimeout        time.Duration
	AskHumanTimeout    time.Duration
	AILoopCheckEvery   int // consult Judge every N iterations; 0 disables even if Judge is set
	WorkDir            string
}

// Controller runs a single loop's state machine.
type Controller struct {
	cfg            Config
	state          State
	iteration      int
	startedAt      time.Time
	recentActivity []string
	budgetExceeded bool
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, state: StateBoot}
}

func (c *Controller) State() State { return c.state }

// Run drives the state machine to completion and returns the
// termination reason.
func (c *Controller) Run(ctx context.Context) termination.Reason {
	c.startedAt = time.Now()
	c.state = StatePriming

	if err := c.prime(); err != nil {
		diag.Error("loop %s: priming failed: %v", c.cfg.LoopID, err)
		return c.finalize(termination.UnrecoverableError{Kind: "priming"})
	}

	c.state = StateIterating
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return c.finalize(termination.StopRequested{})
		default:
		}

		switch c.state {
		case StateIterating, StateCompleting:
			act, ok := c.cfg.Router.NextAny()
			if !ok {
				// No ready hat: the router queue is drained with nothing
				// left to activate. A real deployment only reaches this
				// when every hat has finished publishing and none remain
				// subscribed to what was last emitted; treat it as a
				// (non-safeguard) unrecoverable condition rather than
				// silently exiting 0 without a completion promise.
				return c.finalize(termination.UnrecoverableError{Kind: "router queue drained with no completion promise"})
			}

			c.iteration++
			candidate, askedHuman, idleTimedOut, err := c.runIteration(ctx, act)
			if err != nil {
				consecutiveFailures++
				diag.Warn("loop %s: iteration %d failed: %v", c.cfg.LoopID, c.iteration, err)
				if consecutiveFailures >= 3 {
					return c.finalize(termination.SubprocessFailed{Kind: "repeated-failure"})
				}
			} else {
				consecutiveFailures = 0
			}

			if reason, fired := c.checkSafeguards(idleTimedOut); fired {
				return c.finalize(reason)
			}

			if askedHuman && c.cfg.Human != nil {
				c.state = StateWaitingOnHuman
				continue
			}

			if c.state == StateCompleting {
				if candidate {
					return c.finalize(termination.CompletionPromiseMet{})
				}
				c.state = StateIterating
				continue
			}
			if candidate {
				c.state = StateCompleting
			}

		case StateWaitingOnHuman:
			if c.cfg.Human == nil {
				c.state = StateIterating
				continue
			}
			_, got := c.cfg.Human.WaitForResponse(ctx, c.cfg.LoopID, c.cfg.AskHumanTimeout)
			if !got {
				diag.Warn("loop %s: human.interact timed out, synthesizing a neutral response", c.cfg.LoopID)
				if ev, err := journal.NewEvent("human.response", map[string]any{"synthesized": true, "text": ""}); err == nil {
					if appendErr := c.cfg.Journal.Append(ev); appendErr != nil {
						diag.Warn("loop %s: journal append failed: %v", c.cfg.LoopID, appendErr)
					}
				}
			}
			c.state = StateIterating

		default:
			return c.finalize(termination.UnrecoverableError{Kind: fmt.Sprintf("unexpected state %s", c.state)})
		}
	}
}

func (c *Controller) prime() error {
	ev, err := journal.NewEvent(c.cfg.StartTopic, map[string]any{})
	if err != nil {
		return fmt.Errorf("construct start event: %w", err)
	}
	if err := c.cfg.Journal.Append(ev); err != nil {
		return fmt.Errorf("append start event: %w", err)
	}
	if err := c.cfg.Router.Publish(ev); err != nil && err != ralphapi.ErrBackpressure {
		return fmt.Errorf("publish start event: %w", err)
	}
	return nil
}

// runIteration invokes the agent for one (hat, event) activation, files
// its emitted events, and reports whether this iteration looks like a
// completion candidate and/or asked a human question.
func (c *Controller) runIteration(ctx context.Context, act router.Activation) (candidate bool, askedHuman bool, idleTimedOut bool, err error) {
	prompt := c.cfg.PromptBuilder(act.Hat, c.iteration, act.Event)
	opts := invoker.Options{
		WorkDir:           c.cfg.WorkDir,
		CompletionPromise: c.cfg.PromiseToken,
		IdleTimeout:       c.cfg.IdleTimeout,
	}

	var session io.WriteCloser
	if c.cfg.Recorder != nil {
		if session = c.cfg.Recorder(c.iteration); session != nil {
			opts.SessionWriter = session
			defer session.Close()
		}
	}

	result, err := c.cfg.Backend.Invoke(ctx, c.cfg.LoopID, c.iteration, prompt, opts)
	if err != nil {
		return false, false, false, err
	}
	if result.IdleTimedOut {
		return false, false, true, nil
	}
	if result.ExitErr != nil {
		return false, false, false, result.ExitErr
	}

	iterCopy := c.iteration
	for _, match := range result.Events {
		ev, marshalErr := journal.NewEvent(match.Topic, match.Payload)
		if marshalErr != nil {
			diag.Warn("loop %s: parser.invalid_event topic=%q: %v", c.cfg.LoopID, match.Topic, marshalErr)
			continue
		}
		ev.Iteration = &iterCopy
		if err := c.cfg.Journal.Append(ev); err != nil {
			diag.Warn("loop %s: journal append failed: %v", c.cfg.LoopID, err)
			continue
		}
		if err := c.cfg.Router.Publish(ev); err != nil && err != ralphapi.ErrBackpressure {
			diag.Warn("loop %s: publish failed: %v", c.cfg.LoopID, err)
		}
		if match.Topic == "human.interact" {
			askedHuman = true
		}
	}

	if c.cfg.Budget != nil {
		c.checkBudget(hatName(act.Hat), int64(len(prompt.Render())/4), int64(len(result.RawOutput)/4))
	}

	scratchpad := ""
	if c.cfg.ReadScratchpad != nil {
		scratchpad = c.cfg.ReadScratchpad()
	}
	candidate = c.cfg.CompletionDetector.Observe(result.RawOutput, scratchpad)

	c.checkAILoopDetection(ctx, act.Event.Topic, result.RawOutput)

	return candidate, askedHuman, false, nil
}

// checkBudget records usage against the tracker and surfaces cost.usage /
// cost.budget_exceeded to the journal (SPEC_FULL.md §2.16: the tracker is
// "consulted by the Loop Controller as a safeguard input").
func (c *Controller) checkBudget(hat string, inputTokens, outputTokens int64) {
	status := c.cfg.Budget.RecordUsage(hat, inputTokens, outputTokens)
	ev, err := journal.NewEvent("cost.usage", map[string]any{
		"hat":           hat,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"status":        status.String(),
	})
	if err == nil {
		if appendErr := c.cfg.Journal.Append(ev); appendErr != nil {
			diag.Warn("loop %s: journal append failed: %v", c.cfg.LoopID, appendErr)
		} else if pubErr := c.cfg.Router.Publish(ev); pubErr != nil && pubErr != ralphapi.ErrBackpressure {
			diag.Warn("loop %s: publish failed: %v", c.cfg.LoopID, pubErr)
		}
	}

	if ok, reason := c.cfg.Budget.CanProceed(); !ok {
		c.budgetExceeded = true
		ev, err := journal.NewEvent("cost.budget_exceeded", map[string]any{"reason": reason})
		if err != nil {
			return
		}
		if appendErr := c.cfg.Journal.Append(ev); appendErr != nil {
			diag.Warn("loop %s: journal append failed: %v", c.cfg.LoopID, appendErr)
			return
		}
		if pubErr := c.cfg.Router.Publish(ev); pubErr != nil && pubErr != ralphapi.ErrBackpressure {
			diag.Warn("loop %s: publish failed: %v", c.cfg.LoopID, pubErr)
		}
	}
}

// checkAILoopDetection periodically asks the configured judge whether
// recent iterations look unproductive, surfacing a
// loop.judge.stuck_suspected event rather than aborting directly
// (internal/judge's own doc comment: the judge never fires Aborting by
// itself).
func (c *Controller) checkAILoopDetection(ctx context.Context, topic, rawOutput string) {
	if c.cfg.Judge == nil || c.cfg.AILoopCheckEvery <= 0 {
		return
	}
	const activityWindow = 20
	summary := topic
	if len(rawOutput) > 200 {
		summary += ": " + rawOutput[:200]
	} else if rawOutput != "" {
		summary += ": " + rawOutput
	}
	c.recentActivity = append(c.recentActivity, summary)
	if len(c.recentActivity) > activityWindow {
		c.recentActivity = c.recentActivity[len(c.recentActivity)-activityWindow:]
	}
	if c.iteration%c.cfg.AILoopCheckEvery != 0 {
		return
	}

	verdict := c.cfg.Judge.Assess(ctx, c.recentActivity)
	if !verdict.Stuck {
		return
	}
	ev, err := journal.NewEvent("loop.judge.stuck_suspected", map[string]any{
		"confidence": verdict.Confidence,
		"reasoning":  verdict.Reasoning,
	})
	if err != nil {
		return
	}
	if err := c.cfg.Journal.Append(ev); err != nil {
		diag.Warn("loop %s: failed to append loop.judge.stuck_suspected: %v", c.cfg.LoopID, err)
		return
	}
	if err := c.cfg.Router.Publish(ev); err != nil && err != ralphapi.ErrBackpressure {
		diag.Warn("loop %s: publish failed: %v", c.cfg.LoopID, err)
	}
}

func hatName(h *hat.Hat) string {
	if h == nil {
		return ""
	}
	return h.Name
}

// checkSafeguards evaluates safeguards in priority order (spec.md §4.5:
// "stop marker > restart marker > max iterations > max runtime > idle
// timeout"), with the budget tracker consulted alongside idle timeout as
// the last-priority safeguard input (SPEC_FULL.md §2.16).
func (c *Controller) checkSafeguards(idleTimedOut bool) (termination.Reason, bool) {
	if c.markerExists("stop-requested") {
		return termination.StopRequested{}, true
	}
	if c.markerExists("restart-requested") {
		return termination.RestartRequested{}, true
	}
	if c.cfg.MaxIterations > 0 && c.iteration >= c.cfg.MaxIterations {
		return termination.MaxIterations{Limit: c.cfg.MaxIterations}, true
	}
	if c.cfg.MaxRuntime > 0 && time.Since(c.startedAt) >= c.cfg.MaxRuntime {
		return termination.MaxRuntime{Limit: c.cfg.MaxRuntime.String()}, true
	}
	if idleTimedOut {
		return termination.IdleTimeout{}, true
	}
	if c.budgetExceeded {
		_, reason := c.cfg.Budget.CanProceed()
		return termination.BudgetExceeded{Reason: reason}, true
	}
	return nil, false
}

func (c *Controller) markerExists(name string) bool {
	if c.cfg.RepoRoot == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(c.cfg.RepoRoot, ".ralph", name))
	return err == nil
}

func (c *Controller) finalize(reason termination.Reason) termination.Reason {
	c.state = StateFinalizing
	ev, err := journal.NewEvent("loop.end", map[string]string{"reason": reason.String()})
	if err == nil {
		if appendErr := c.cfg.Journal.Append(ev); appendErr != nil {
			diag.Warn("loop %s: failed to append loop.end: %v", c.cfg.LoopID, appendErr)
		}
	}
	c.state = StateExited
	return reason
}
