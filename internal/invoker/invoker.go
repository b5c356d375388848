// Package invoker implements the Agent Invoker (spec.md §4.4): builds a
// prompt, spawns the configured backend CLI subprocess, captures output,
// extracts embedded events, and enforces idle/wall-clock timeouts.
package invoker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/invoker/backend"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/ralphapi"
)

// Prompt is the assembled input for one iteration (spec.md §4.4 point 1).
type Prompt struct {
	OrchestrationHeader string
	HatInstructions      string
	JournalExcerpt       string
	Scratchpad           string
	Memories             string
}

func (p Prompt) Render() string {
	var sb strings.Builder
	sb.WriteString(p.OrchestrationHeader)
	sb.WriteString("\n\n")
	sb.WriteString(p.HatInstructions)
	if p.JournalExcerpt != "" {
		sb.WriteString("\n\n## Recent journal events\n")
		sb.WriteString(p.JournalExcerpt)
	}
	if p.Scratchpad != "" {
		sb.WriteString("\n\n## Scratchpad\n")
		sb.WriteString(p.Scratchpad)
	}
	if p.Memories != "" {
		sb.WriteString("\n\n## Relevant memories\n")
		sb.WriteString(p.Memories)
	}
	return sb.String()
}

// Result is what one invocation produced.
type Result struct {
	Events             []journal.MarkerMatch
	CompletionPromise  bool
	ExitErr            error // non-nil on nonzero exit / signal
	IdleTimedOut       bool
	RawOutput          string
}

// Options configure a single invocation.
type Options struct {
	WorkDir           string
	CompletionPromise string
	IdleTimeout       time.Duration // 0 disables idle timeout (spec.md §8)
	WallClockTimeout  time.Duration // 0 disables
	SessionWriter     io.Writer     // optional session recorder sink (SPEC_FULL.md §4.4.b)
}

// Invoker runs one backend across many iterations.
type Invoker struct {
	Backend backend.Backend
	Env     []string
}

// New constructs an Invoker bound to a specific backend.
func New(b backend.Backend, env []string) *Invoker {
	return &Invoker{Backend: b, Env: env}
}

// CheckVersion spawns the backend with its version args and compares the
// result against MinVersion using golang.org/x/mod/semver. Best-effort:
// an unparsable version string is logged and treated as acceptable,
// since not every backend's --version output is guaranteed to be strict
// semver.
func (inv *Invoker) CheckVersion(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, resolveBinary(inv.Backend), inv.Backend.VersionArgs()...)
	out, err := cmd.Output()
	if err != nil {
		diag.Warn("invoker: could not determine %s version: %v", inv.Backend.Name(), err)
		return nil
	}
	v := "v" + strings.TrimPrefix(strings.TrimSpace(string(out)), "v")
	if !semver.IsValid(v) {
		diag.Warn("invoker: %s reported non-semver version %q, skipping check", inv.Backend.Name(), strings.TrimSpace(string(out)))
		return nil
	}
	if semver.Compare(v, inv.Backend.MinVersion()) < 0 {
		return fmt.Errorf("%w: %s version %s is below minimum %s", ralphapi.ErrPreflightFailed, inv.Backend.Name(), v, inv.Backend.MinVersion())
	}
	return nil
}

func resolveBinary(b backend.Backend) string {
	return b.Name()
}

// Invoke runs exactly one iteration: writes the prompt to a temp file,
// spawns the backend, captures stdout/stderr concurrently, extracts
// `<ralph:event>` markers as they arrive, and scans final output for the
// completion promise on success exit (spec.md §4.4).
func (inv *Invoker) Invoke(ctx context.Context, loopID string, iteration int, prompt Prompt, opts Options) (Result, error) {
	promptFile, err := writePromptFile(opts.WorkDir, loopID, iteration, prompt.Render())
	if err != nil {
		return Result{}, fmt.Errorf("%w: write prompt: %v", ralphapi.ErrJournalIO, err)
	}
	defer os.Remove(promptFile)

	runCtx := ctx
	var cancelWallClock context.CancelFunc
	if opts.WallClockTimeout > 0 {
		runCtx, cancelWallClock = context.WithTimeout(ctx, opts.WallClockTimeout)
		defer cancelWallClock()
	}

	cmd, err := inv.Backend.BuildCommand(runCtx, backend.Config{
		BinaryPath: resolveBinary(inv.Backend),
		WorkDir:    opts.WorkDir,
		Env:        append(os.Environ(), inv.Env...),
	}, promptFile)
	if err != nil {
		return Result{}, &ralphapi.SubprocessFailure{Kind: "spawn", Err: err}
	}

	setProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &ralphapi.SubprocessFailure{Kind: "spawn", Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &ralphapi.SubprocessFailure{Kind: "spawn", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return Result{}, &ralphapi.SubprocessFailure{Kind: "spawn", Err: err}
	}

	var (
		mu         sync.Mutex
		markers    []journal.MarkerMatch
		rawOutput  strings.Builder
		lastByteAt = time.Now()
	)
	touch := func() {
		mu.Lock()
		lastByteAt = time.Now()
		mu.Unlock()
	}

	var mbOut, mbErr journal.MarkerBuffer
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return streamLines(stdoutPipe, func(line string) {
			touch()
			mu.Lock()
			rawOutput.WriteString(line)
			rawOutput.WriteByte('\n')
			found := mbOut.Feed(line + "\n")
			markers = append(markers, found...)
			mu.Unlock()
			if opts.SessionWriter != nil {
				fmt.Fprintf(opts.SessionWriter, "%s OUT %s\n", time.Now().UTC().Format(time.RFC3339Nano), line)
			}
		})
	})
	g.Go(func() error {
		return streamLines(stderrPipe, func(line string) {
			touch()
			mu.Lock()
			_ = mbErr.Feed(line + "\n")
			mu.Unlock()
			if opts.SessionWriter != nil {
				fmt.Fprintf(opts.SessionWriter, "%s ERR %s\n", time.Now().UTC().Format(time.RFC3339Nano), line)
			}
		})
	})

	// Idle-timeout watchdog (spec.md §4.4 failure semantics): poll
	// lastByteAt; on expiry, SIGTERM then grace window then SIGKILL.
	idleDone := make(chan struct{})
	idleTimedOut := false
	if opts.IdleTimeout > 0 {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-idleDone:
					return
				case <-gctx.Done():
					return
				case <-ticker.C:
					mu.Lock()
					idle := time.Since(lastByteAt)
					mu.Unlock()
					if idle >= opts.IdleTimeout {
						idleTimedOut = true
						terminateGraceful(cmd)
						return
					}
				}
			}
		}()
	}

	streamErr := g.Wait()
	close(idleDone)

	waitErr := cmd.Wait()

	mu.Lock()
	out := rawOutput.String()
	finalMarkers := append([]journal.MarkerMatch(nil), markers...)
	mu.Unlock()

	res := Result{
		Events:       finalMarkers,
		RawOutput:    out,
		IdleTimedOut: idleTimedOut,
	}

	if idleTimedOut {
		res.ExitErr = &ralphapi.SubprocessFailure{Kind: "signal", Err: fmt.Errorf("idle timeout after %s", opts.IdleTimeout)}
		return res, nil
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitErr = &ralphapi.SubprocessFailure{Kind: "signal", Err: fmt.Errorf("wall-clock timeout after %s", opts.WallClockTimeout)}
		return res, nil
	}
	if waitErr != nil {
		res.ExitErr = &ralphapi.SubprocessFailure{Kind: "exit", Err: waitErr}
		return res, nil
	}
	if streamErr != nil && streamErr != context.Canceled {
		diag.Warn("invoker: stream read error: %v", streamErr)
	}

	res.CompletionPromise = journal.FindCompletionPromise(out, opts.CompletionPromise)
	return res, nil
}

func streamLines(r io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	return scanner.Err()
}

func writePromptFile(workDir, loopID string, iteration int, content string) (string, error) {
	dir := filepath.Join(workDir, ".ralph", "prompts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.md", loopID, iteration))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// terminateGraceful sends SIGTERM, waits a short grace window, then
// SIGKILL, matching spec.md §4.4 idle-timeout failure semantics and §5's
// "grace period (≤ 5 s)".
func terminateGraceful(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = signalProcessGroup(cmd, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = signalProcessGroup(cmd, syscall.SIGKILL)
	}
}
