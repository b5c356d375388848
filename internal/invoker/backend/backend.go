// Package backend defines the swappable AI coding-assistant CLI adapter
// interface (SPEC_FULL.md §4.4.a), grounded in
// _examples/steveyegge-vc/internal/executor/agent.go's buildClaudeCodeCommand
// / buildAmpCommand and in original_source/ralph-adapters's multi-backend
// design.
package backend

import (
	"context"
	"os/exec"
)

// Config is the per-loop backend configuration: which binary to invoke
// and how.
type Config struct {
	BinaryPath string
	WorkDir    string
	Env        []string
	ExtraArgs  []string
}

// AgentMessage is one parsed line of backend stream output. Not every
// backend emits structured stream-JSON; for a text-only backend
// ParseStreamLine returns ok=false and no AgentMessage is produced.
type AgentMessage struct {
	Role string // "assistant" | "tool" | "system"
	Text string
}

// Backend adapts one specific AI coding-assistant CLI to the Agent
// Invoker's spawn/parse contract (spec.md §4.4).
type Backend interface {
	// Name identifies the backend for logging and config ("claude", "amp", "opencode").
	Name() string

	// BuildCommand constructs the subprocess invocation for the given
	// prompt file. promptFile is a path the backend should read its
	// prompt from, or "" if the backend expects the prompt on stdin —
	// adapters decide which per spec.md §4.4 point 2.
	BuildCommand(ctx context.Context, cfg Config, promptFile string) (*exec.Cmd, error)

	// ParseStreamLine attempts to interpret one line of subprocess
	// stdout as a structured message. Returns ok=false for lines that
	// are plain text (still forwarded to the invoker's marker scanner
	// verbatim).
	ParseStreamLine(line []byte) (AgentMessage, bool)

	// MinVersion is the lowest backend CLI version this adapter
	// supports, in semver form consumable by golang.org/x/mod/semver.
	MinVersion() string

	// VersionArgs are the CLI args used to query the backend's own
	// version string (e.g. []string{"--version"}).
	VersionArgs() []string
}

// Registry resolves a backend by name.
type Registry map[string]Backend

// Default returns the registry of built-in backends.
func Default() Registry {
	return Registry{
		"claude":   NewClaude(),
		"amp":      NewAmp(),
		"opencode": NewOpenCode(),
	}
}

func (r Registry) Lookup(name string) (Backend, bool) {
	b, ok := r[name]
	return b, ok
}
