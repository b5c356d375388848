// Package recorder implements the session-replay recorder (SPEC_FULL.md
// §4.4.b): a non-blocking io.Writer that tees subprocess stdout/stderr
// lines to .ralph/sessions/<loop-id>-<iteration>.cast, gated by
// RALPH_DIAGNOSTICS or --record. Grounded in original_source/crates/
// ralph-tui's full-session recording, adapted from a terminal-replay
// widget to a plain line-delimited sink the Invoker already formats
// (internal/invoker writes "<ts> OUT|ERR <line>" through this writer).
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const bufferedFrames = 256

// Enabled reports whether recording should be active, checking the
// explicit flag first and falling back to the environment variable.
func Enabled(flag bool) bool {
	if flag {
		return true
	}
	return os.Getenv("RALPH_DIAGNOSTICS") == "1"
}

// Recorder is an io.Writer that never blocks its caller: a full buffer
// drops the frame rather than stalling the agent subprocess (SPEC_FULL.md
// §4.4.b).
type Recorder struct {
	frames chan []byte
	done   chan struct{}
	f      *os.File
	once   sync.Once
}

// New opens (creating if needed) the session file for loopID/iteration
// under repoRoot and starts its drain goroutine.
func New(repoRoot, loopID string, iteration int) (*Recorder, error) {
	dir := filepath.Join(repoRoot, ".ralph", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir sessions dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.cast", loopID, iteration))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}

	r := &Recorder{
		frames: make(chan []byte, bufferedFrames),
		done:   make(chan struct{}),
		f:      f,
	}
	go r.drain()
	return r, nil
}

func (r *Recorder) drain() {
	defer close(r.done)
	for frame := range r.frames {
		_, _ = r.f.Write(frame)
	}
}

// Write implements io.Writer. It copies p (the caller, invoker's stream
// reader, reuses its buffer) and enqueues it, dropping the frame if the
// buffer is full rather than blocking.
func (r *Recorder) Write(p []byte) (int, error) {
	frame := make([]byte, len(p))
	copy(frame, p)

	select {
	case r.frames <- frame:
	default:
		// buffer full: drop this frame, never stall the subprocess reader.
	}
	return len(p), nil
}

// Close stops accepting frames, drains what's queued, and closes the
// underlying file.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		close(r.frames)
	})
	<-r.done
	return r.f.Close()
}
