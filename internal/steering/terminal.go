package steering

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/journal"
)

// TerminalConfig configures terminal ingress (spec.md §4.7 "Terminal
// ingress"), grounded in
// _examples/steveyegge-vc/internal/repl/repl.go's REPL/Config shape.
type TerminalConfig struct {
	Journal       *journal.Journal
	LoopID        string
	CommandPrefix string // default ":"
	HistoryPath   string // default $HOME/.ralph/terminal_history
}

// Terminal captures keystrokes from a readline session. A dedicated
// prefix enters command mode; 'g' queues guidance for the next
// iteration boundary, 'i' injects guidance immediately, 's'/'r' write
// the stop/restart markers.
type Terminal struct {
	cfg    TerminalConfig
	rl     *readline.Instance
	rlMu   sync.Mutex
	closed bool

	queueMu sync.Mutex
	queued  []string
}

func NewTerminal(cfg TerminalConfig) (*Terminal, error) {
	if cfg.Journal == nil {
		return nil, fmt.Errorf("steering: terminal ingress requires a journal")
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = ":"
	}
	if cfg.HistoryPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir := filepath.Join(home, ".ralph")
			if err := os.MkdirAll(dir, 0o755); err == nil {
				cfg.HistoryPath = filepath.Join(dir, "terminal_history")
			}
		}
	}
	return &Terminal{cfg: cfg}, nil
}

// Close idempotently tears down the underlying readline session. Safe
// to call from a panic-recovery hook (internal/termhook.Closer) as well
// as Run's own deferred cleanup.
func (t *Terminal) Close() error {
	t.rlMu.Lock()
	defer t.rlMu.Unlock()
	if t.closed || t.rl == nil {
		return nil
	}
	t.closed = true
	return t.rl.Close()
}

// Run reads lines until ctx is canceled or the user exits (Ctrl-D).
func (t *Terminal) Run(ctx context.Context) error {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       cyan("ralph> "),
		HistoryFile:  t.cfg.HistoryPath,
		HistoryLimit: 1000,
	})
	if err != nil {
		return fmt.Errorf("steering: create readline: %w", err)
	}
	t.rl = rl
	defer func() {
		if err := t.Close(); err != nil {
			diag.Warn("steering: failed to close terminal: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, t.cfg.CommandPrefix) {
			if err := t.handleCommand(rl, line); err != nil {
				diag.Warn("steering: command failed: %v", err)
			}
			continue
		}
	}
}

func (t *Terminal) handleCommand(rl *readline.Instance, line string) error {
	rest := strings.TrimPrefix(line, t.cfg.CommandPrefix)
	if rest == "" {
		return nil
	}
	action := rest[0]

	switch action {
	case 'g':
		text, err := rl.Readline() // prompt for the guidance line on a fresh prompt
		if err != nil {
			return err
		}
		t.Queue(strings.TrimSpace(text))
		diag.Plain("guidance queued for next iteration")
	case 'i':
		text, err := rl.Readline()
		if err != nil {
			return err
		}
		return t.inject(strings.TrimSpace(text))
	case 's':
		return t.writeMarker("stop-requested")
	case 'r':
		return t.writeMarker("restart-requested")
	default:
		diag.Warn("steering: unknown command mode action %q", string(action))
	}
	return nil
}

// Queue buffers a guidance line to be emitted at the next iteration
// boundary via Flush (spec.md §4.7 "queue guidance").
func (t *Terminal) Queue(text string) {
	if text == "" {
		return
	}
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	t.queued = append(t.queued, text)
}

// Flush emits every queued guidance line as a human.guidance event and
// clears the queue. The caller invokes this at an iteration boundary.
func (t *Terminal) Flush() error {
	t.queueMu.Lock()
	pending := t.queued
	t.queued = nil
	t.queueMu.Unlock()

	for _, text := range pending {
		if err := t.inject(text); err != nil {
			return err
		}
	}
	return nil
}

// inject appends a human.guidance event at the current journal
// position, matching "inject immediately" (spec.md §4.7: the running
// subprocess will not see it, the next iteration will).
func (t *Terminal) inject(text string) error {
	if text == "" {
		return nil
	}
	ev, err := journal.NewEvent("human.guidance", text)
	if err != nil {
		return err
	}
	return t.cfg.Journal.Append(ev)
}

func (t *Terminal) writeMarker(name string) error {
	path := t.cfg.Journal.Path()
	dir := filepath.Dir(path)
	return os.WriteFile(filepath.Join(dir, name), []byte("requested via terminal\n"), 0o644)
}
