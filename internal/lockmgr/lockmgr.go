// Package lockmgr implements the primary-loop exclusive lock (spec.md
// §4.6): exclusive-creation semantics, PID-liveness stale detection, and
// exponential-backoff blocking acquisition for `--exclusive` mode.
// Grounded in _examples/steveyegge-vc/internal/storage/lock.go's
// AcquireExclusiveLock/isProcessAlive.
package lockmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ralph-run/ralph/internal/ralphapi"
)

// Lock is the on-disk shape of .ralph/loop.lock.
type Lock struct {
	PID         int       `json:"pid"`
	Hostname    string    `json:"hostname"`
	StartedAt   time.Time `json:"started_at"`
	PromptBrief string    `json:"prompt_brief"`
	Role        string    `json:"role,omitempty"`
}

// Manager owns the lock file at <repoRoot>/.ralph/loop.lock.
type Manager struct {
	path string
}

func New(repoRoot string) *Manager {
	return &Manager{path: filepath.Join(repoRoot, ".ralph", "loop.lock")}
}

func (m *Manager) Path() string { return m.path }

// TryAcquire attempts an atomic exclusive-creation acquisition (spec.md
// §4.6: "acquisition is atomic-create-exclusive"). A lock file is created
// with O_EXCL so at most one of two racing processes can win the create;
// the loser inspects the winner's PID and either reports contention
// (alive) or removes the stale file and retries the exclusive create.
func (m *Manager) TryAcquire(promptBrief, role string) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := Lock{
		PID:         os.Getpid(),
		Hostname:    hostname,
		StartedAt:   time.Now(),
		PromptBrief: promptBrief,
		Role:        role,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("mkdir lock dir: %w", err)
	}

	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, writeErr := f.Write(data)
			closeErr := f.Close()
			if writeErr != nil {
				return fmt.Errorf("write lock: %w", writeErr)
			}
			if closeErr != nil {
				return fmt.Errorf("write lock: %w", closeErr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock: %w", err)
		}

		existingData, readErr := os.ReadFile(m.path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue // holder released between our O_EXCL failure and this read; retry
			}
			return fmt.Errorf("read existing lock: %w", readErr)
		}
		var existing Lock
		if json.Unmarshal(existingData, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return fmt.Errorf("%w: held by PID %d on %s since %s", ralphapi.ErrLockContention,
				existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		if rmErr := os.Remove(m.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove stale lock: %w", rmErr)
		}
	}
	return fmt.Errorf("%w: too much contention removing stale lock at %s", ralphapi.ErrLockContention, m.path)
}

// AcquireBlocking polls TryAcquire with exponential backoff up to a
// ceiling, for `run --exclusive` contention (spec.md §4.6).
func (m *Manager) AcquireBlocking(promptBrief, role string, ceiling time.Duration) error {
	backoff := 100 * time.Millisecond
	for {
		err := m.TryAcquire(promptBrief, role)
		if err == nil {
			return nil
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > ceiling {
			backoff = ceiling
		}
	}
}

// Release removes the lock file. Safe to call even if it's already gone.
func (m *Manager) Release() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}
