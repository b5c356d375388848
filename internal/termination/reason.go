// Package termination defines the termination-reason taxonomy and the
// Finalizing-state orchestration (spec.md §4.11): clearing run markers,
// releasing the lock, enqueueing worktree merges, and deriving the
// process exit code. loop.end itself is appended by the loop controller. Grounded in _examples/steveyegge-vc/internal/sandbox/manager.go's
// cleanup/retention pattern and internal/git/git.go's merge plumbing.
package termination

import "fmt"

// Reason is the interface every termination variant implements
// (SPEC_FULL.md §3: one concrete struct per variant).
type Reason interface {
	ExitCode() int
	String() string
}

// CompletionPromiseMet: the dual-confirmation completion rule held across
// two consecutive iterations (spec.md §4.10).
type CompletionPromiseMet struct{}

func (CompletionPromiseMet) ExitCode() int { return 0 }
func (CompletionPromiseMet) String() string { return "CompletionPromiseMet" }

// RestartRequested: a restart marker was observed; the process
// exec-replaces itself, so this reason's own exit code is never
// observed by a waiting parent (spec.md §6: "0 restart").
type RestartRequested struct{}

func (RestartRequested) ExitCode() int { return 0 }
func (RestartRequested) String() string { return "RestartRequested" }

// MaxIterations: the configured iteration cap was reached.
type MaxIterations struct{ Limit int }

func (MaxIterations) ExitCode() int { return 2 }
func (m MaxIterations) String() string { return fmt.Sprintf("MaxIterations(%d)", m.Limit) }

// MaxRuntime: the configured wall-clock cap was reached.
type MaxRuntime struct{ Limit string }

func (MaxRuntime) ExitCode() int { return 2 }
func (m MaxRuntime) String() string { return fmt.Sprintf("MaxRuntime(%s)", m.Limit) }

// IdleTimeout: no bytes observed on either stream for the configured
// idle window.
type IdleTimeout struct{}

func (IdleTimeout) ExitCode() int { return 2 }
func (IdleTimeout) String() string { return "IdleTimeout" }

// BudgetExceeded: the cost/budget tracker reported its hourly token or
// cost ceiling exceeded (SPEC_FULL.md §2.16).
type BudgetExceeded struct{ Reason string }

func (BudgetExceeded) ExitCode() int { return 2 }
func (b BudgetExceeded) String() string { return fmt.Sprintf("BudgetExceeded(%s)", b.Reason) }

// StopRequested: an external stop marker or SIGINT/SIGTERM was observed.
type StopRequested struct{}

func (StopRequested) ExitCode() int { return 3 }
func (StopRequested) String() string { return "StopRequested" }

// SubprocessFailed: three consecutive iterations failed at the
// subprocess level (spawn, signal, nonzero exit).
type SubprocessFailed struct{ Kind string }

func (SubprocessFailed) ExitCode() int { return 4 }
func (s SubprocessFailed) String() string { return fmt.Sprintf("SubprocessFailed(%s)", s.Kind) }

// UnrecoverableError: a fatal condition outside the subprocess/safeguard
// taxonomy (e.g. a failed priming append, or a router queue drained
// before any completion promise).
type UnrecoverableError struct{ Kind string }

func (UnrecoverableError) ExitCode() int { return 1 }
func (u UnrecoverableError) String() string { return fmt.Sprintf("UnrecoverableError(%s)", u.Kind) }
