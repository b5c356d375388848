package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-run/ralph/internal/budget"
	"github.com/ralph-run/ralph/internal/completion"
	"github.com/ralph-run/ralph/internal/config"
	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/hat"
	"github.com/ralph-run/ralph/internal/invoker"
	"github.com/ralph-run/ralph/internal/invoker/backend"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/judge"
	"github.com/ralph-run/ralph/internal/loop"
	"github.com/ralph-run/ralph/internal/lockmgr"
	"github.com/ralph-run/ralph/internal/memory"
	"github.com/ralph-run/ralph/internal/ralphapi"
	"github.com/ralph-run/ralph/internal/recorder"
	"github.com/ralph-run/ralph/internal/router"
	"github.com/ralph-run/ralph/internal/steering"
	"github.com/ralph-run/ralph/internal/tasks"
	"github.com/ralph-run/ralph/internal/termhook"
	"github.com/ralph-run/ralph/internal/termination"
	"github.com/ralph-run/ralph/internal/vcs"
	"github.com/ralph-run/ralph/internal/worktree"
)

var (
	continueFlag  bool
	exclusiveFlag bool
	noAutoMerge   bool
	recordFlag    bool
	lockCeiling   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot and run a loop to completion",
	Long: `run boots a loop (primary, parallel worktree, or --continue) and drives
it through Priming, Iterating, WaitingOnHuman, Completing/Aborting and
Finalizing until a termination reason fires.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRun(cmd); err != nil {
			diag.Error("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&continueFlag, "continue", false, "resume from the existing scratchpad/journal instead of starting fresh")
	runCmd.Flags().BoolVar(&exclusiveFlag, "exclusive", false, "block on the primary lock instead of spawning a worktree loop")
	runCmd.Flags().BoolVar(&noAutoMerge, "no-auto-merge", false, "suppress merge-queue enqueue on worktree completion")
	runCmd.Flags().BoolVar(&recordFlag, "record", false, "record every iteration's subprocess session under .ralph/sessions")
	runCmd.Flags().DurationVar(&lockCeiling, "lock-ceiling", 5*time.Minute, "max backoff ceiling when --exclusive is blocking on the lock")
	rootCmd.AddCommand(runCmd)
}

// runRun contains the Boot-through-Finalizing body, extracted from Run so
// every defer (lock release, journal close, terminal restoration) fires
// on all return paths (_examples/steveyegge-vc/cmd/vc/execute.go).
func runRun(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return err
	}
	cfg.Exclusive = exclusiveFlag

	primaryRoot := repoRoot
	promptBrief := fmt.Sprintf("ralph run (%s backend, %s)", cfg.Backend, cfg.StartTopic)

	boot, err := bootLoop(ctx, cfg, primaryRoot, promptBrief)
	if err != nil {
		return err
	}
	defer boot.releaseLockIfHeld()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	journalPath, err := resolveJournalPath(boot.workRoot, continueFlag)
	if err != nil {
		return err
	}
	j, err := journal.Open(journalPath)
	if err != nil {
		return fmt.Errorf("%w: open journal: %v", ralphapi.ErrJournalIO, err)
	}
	defer j.Close()
	if err := journal.WriteCurrentEventsMarker(boot.workRoot, journalPath); err != nil {
		diag.Warn("failed to write current-events marker: %v", err)
	}

	startTopic := cfg.StartTopic
	if continueFlag {
		startTopic = "task.resume"
	}

	rtr := router.New(j, registry, cfg.RouterQueueCapacity)

	backends := backend.Default()
	be, ok := backends.Lookup(cfg.Backend)
	if !ok {
		return fmt.Errorf("%w: no adapter registered for backend %q", ralphapi.ErrConfigInvalid, cfg.Backend)
	}
	inv := invoker.New(be, nil)
	if err := inv.CheckVersion(ctx); err != nil {
		boot.discardOnPreflightFailure(ctx)
		return err
	}
	boot.registerIfWorktree(promptBrief)

	detector := completion.NewDetector(cfg.CompletionPromise)

	var budgetTracker *budget.Tracker
	if cfg.Budget.Enabled {
		budgetTracker = budget.NewTracker(budget.Config{
			Enabled:          true,
			MaxTokensPerHour: cfg.Budget.MaxTokensPerHour,
			MaxCostPerHour:   cfg.Budget.MaxCostPerHour,
			InputTokenCost:   cfg.Budget.InputTokenCost,
			OutputTokenCost:  cfg.Budget.OutputTokenCost,
			PersistStatePath: cfg.Budget.PersistStatePath,
		})
	}

	var aiJudge *judge.Judge
	aiLoopCheckEvery := 0
	if cfg.EnableAILoopCheck {
		if jd, ok := judge.New(); ok {
			aiJudge = jd
			aiLoopCheckEvery = cfg.AILoopCheckInterval
		} else {
			diag.Debug("loop-stuck AI judge disabled: no ANTHROPIC_API_KEY")
		}
	}

	loopID := boot.loopID()

	terminal, terr := steering.NewTerminal(steering.TerminalConfig{Journal: j, LoopID: loopID})
	if terr != nil {
		diag.Warn("terminal ingress disabled: %v", terr)
	} else {
		termhook.Install(terminal)
		go func() {
			if err := terminal.Run(ctx); err != nil {
				diag.Warn("terminal ingress exited: %v", err)
			}
		}()
	}

	taskLedger := tasks.New(boot.workRoot)
	memStore := memory.New(boot.workRoot)

	bot, berr := steering.NewBot(steering.ChatConfig{
		RepoRoot: boot.workRoot,
		LoopID:   loopID,
		Journal:  j,
		Tasks:    taskLedger,
		Memory:   memStore,
	})
	if berr != nil {
		diag.Debug("chat ingress disabled: %v", berr)
	} else {
		go func() {
			if err := bot.Run(ctx); err != nil {
				diag.Warn("chat ingress exited: %v", err)
			}
		}()
	}

	scratchpadPath := filepath.Join(boot.workRoot, ".ralph", "agent", "scratchpad.md")
	readScratchpad := func() string {
		data, err := os.ReadFile(scratchpadPath)
		if err != nil {
			return ""
		}
		return string(data)
	}

	promptBuilder := buildPrompt(j, memStore)
	if terr == nil {
		basePrompt := promptBuilder
		promptBuilder = func(h *hat.Hat, iteration int, ev journal.Event) invoker.Prompt {
			// Queued terminal guidance is released at each iteration boundary.
			if err := terminal.Flush(); err != nil {
				diag.Warn("terminal guidance flush failed: %v", err)
			}
			return basePrompt(h, iteration, ev)
		}
	}

	ctrl := loop.New(loop.Config{
		LoopID:             loopID,
		RepoRoot:           boot.workRoot,
		StartTopic:         startTopic,
		PromiseToken:       cfg.CompletionPromise,
		Backend:            inv,
		Router:             rtr,
		Journal:            j,
		PromptBuilder:      promptBuilder,
		ReadScratchpad:     readScratchpad,
		CompletionDetector: detector,
		Budget:             budgetTracker,
		Judge:              aiJudge,
		Human:              steering.NewJournalResponder(j, 0),
		Recorder:           newSessionRecorder(boot.workRoot, loopID),
		MaxIterations:      cfg.MaxIterations,
		MaxRuntime:         cfg.MaxRuntime,
		IdleTimeout:        cfg.IdleTimeout,
		AskHumanTimeout:    cfg.AskHumanTimeout,
		AILoopCheckEvery:   aiLoopCheckEvery,
		WorkDir:            boot.workRoot,
	})

	reason := ctrl.Run(ctx)

	termCfg := termination.Config{
		RepoRoot:     boot.workRoot,
		Role:         boot.role,
		LoopID:       loopID,
		Branch:       boot.branch,
		WorktreePath: boot.worktreePath,
		PromptBrief:  promptBrief,
		JournalPath:  journalPath,
		Lock:         boot.lock,
		MergeQueue:   boot.mergeQueue(primaryRoot, noAutoMerge),
		Args:         os.Args[1:],
	}
	exitCode, err := termination.Finalize(termCfg, reason)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// newSessionRecorder returns a loop.SessionRecorder that opens a fresh
// recorder.Recorder per iteration when recording is enabled (spec.md
// §4.4.b). Returns nil when recording is disabled, i.e. neither --record
// nor RALPH_DIAGNOSTICS=1 is set.
func newSessionRecorder(workRoot, loopID string) loop.SessionRecorder {
	if !recorder.Enabled(recordFlag) {
		return nil
	}
	return func(iteration int) io.WriteCloser {
		rec, err := recorder.New(workRoot, loopID, iteration)
		if err != nil {
			diag.Warn("session recorder: %v", err)
			return nil
		}
		return rec
	}
}

// buildPrompt assembles the per-iteration prompt (spec.md §4.4 point 1):
// persona instructions, a short journal excerpt, and any primed
// memories. The scratchpad is attached by the controller itself via
// ReadScratchpad.
func buildPrompt(j *journal.Journal, memStore *memory.Store) loop.PromptBuilder {
	const orchestrationHeader = `You are operating under ralph, a bounded iteration loop. Emit events you
want the journal to see as <ralph:event topic="TOPIC">PAYLOAD</ralph:event>
tags in your output. When the task is complete, include the configured
completion promise token verbatim in your final output.`

	return func(h *hat.Hat, iteration int, ev journal.Event) invoker.Prompt {
		excerpt := recentJournalExcerpt(j, 10)
		memories, _ := memStore.Prime(2000)
		instructions := "You have no declared persona; act autonomously within the allowed topics."
		if h != nil && h.Instructions != "" {
			instructions = h.Instructions
		}
		return invoker.Prompt{
			OrchestrationHeader: fmt.Sprintf("%s\n\nIteration %d, triggered by %q.", orchestrationHeader, iteration, ev.Topic),
			HatInstructions:     instructions,
			JournalExcerpt:      excerpt,
			Memories:            memories,
		}
	}
}

func recentJournalExcerpt(j *journal.Journal, n int) string {
	events, err := j.ReadAll()
	if err != nil || len(events) == 0 {
		return ""
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	var out string
	for _, e := range events {
		out += fmt.Sprintf("%s %s %s\n", e.Ts.Format(time.RFC3339), e.Topic, string(e.Payload))
	}
	return out
}

func resolveJournalPath(workRoot string, cont bool) (string, error) {
	if cont {
		if p, err := journal.ReadCurrentEventsMarker(workRoot); err == nil && p != "" {
			return p, nil
		}
		return "", fmt.Errorf("--continue requires an existing journal, none found under %s", workRoot)
	}
	return journal.NewJournalPath(workRoot), nil
}

// bootResult captures the outcome of acquiring the primary lock or
// spawning a worktree loop (spec.md §4.6).
type bootResult struct {
	workRoot     string
	role         string // "primary" | "worktree" | "merge"
	branch       string
	worktreePath string
	lock         *lockmgr.Manager
	held         bool
	mgr          *worktree.Manager
	spawnedID    string
}

func (b *bootResult) loopID() string {
	if b.spawnedID != "" {
		return b.spawnedID
	}
	return "primary"
}

func (b *bootResult) releaseLockIfHeld() {
	if b.held && b.lock != nil {
		_ = b.lock.Release()
	}
}

func (b *bootResult) discardOnPreflightFailure(ctx context.Context) {
	if b.role == "worktree" && b.mgr != nil && b.spawnedID != "" {
		if err := b.mgr.Discard(ctx, b.spawnedID); err != nil {
			diag.Warn("failed to discard worktree %s after preflight failure: %v", b.spawnedID, err)
		}
	}
}

func (b *bootResult) registerIfWorktree(promptBrief string) {
	if b.role != "worktree" || b.mgr == nil {
		return
	}
	entry := worktree.LoopEntry{
		ID:          b.spawnedID,
		Branch:      b.branch,
		Path:        b.worktreePath,
		PID:         os.Getpid(),
		Status:      worktree.StatusRunning,
		StartedAt:   time.Now().UTC(),
		PromptBrief: promptBrief,
	}
	if err := b.mgr.Registry().Register(entry); err != nil {
		diag.Warn("failed to register worktree loop %s: %v", b.spawnedID, err)
	}
}

func (b *bootResult) mergeQueue(primaryRoot string, disabled bool) *worktree.MergeQueue {
	if disabled || b.role != "worktree" {
		return nil
	}
	return worktree.NewMergeQueue(primaryRoot)
}

// bootLoop decides whether this invocation runs as the primary loop or
// spawns a parallel worktree loop (spec.md §4.6).
func bootLoop(ctx context.Context, cfg config.Config, primaryRoot, promptBrief string) (*bootResult, error) {
	if cfg.Role == "merge" {
		return &bootResult{workRoot: primaryRoot, role: "merge"}, nil
	}

	lock := lockmgr.New(primaryRoot)

	if exclusiveFlag {
		if err := lock.AcquireBlocking(promptBrief, "primary", lockCeiling); err != nil {
			return nil, err
		}
		return &bootResult{workRoot: primaryRoot, role: "primary", lock: lock, held: true}, nil
	}

	err := lock.TryAcquire(promptBrief, "primary")
	if err == nil {
		return &bootResult{workRoot: primaryRoot, role: "primary", lock: lock, held: true}, nil
	}
	if !errors.Is(err, ralphapi.ErrLockContention) {
		return nil, err
	}
	if !cfg.ParallelEnabled {
		return nil, fmt.Errorf("%w: primary lock held and parallel mode disabled", ralphapi.ErrLockContention)
	}

	g, gerr := vcs.New(ctx)
	if gerr != nil {
		return nil, gerr
	}
	mgr := worktree.NewManager(g, primaryRoot, "")
	shared := worktree.SharedPaths{
		MemoryFile: memory.New(primaryRoot).Path(),
		SpecsDir:   filepath.Join(primaryRoot, "specs"),
		TaskLedger: tasks.New(primaryRoot).Path(),
	}
	spawned, serr := mgr.Spawn(ctx, promptBrief, shared)
	if serr != nil {
		return nil, serr
	}
	return &bootResult{
		workRoot:     spawned.Path,
		role:         "worktree",
		branch:       spawned.Branch,
		worktreePath: spawned.Path,
		mgr:          mgr,
		spawnedID:    spawned.ID,
	}, nil
}
