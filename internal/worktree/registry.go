// Package worktree implements the parallel-mode half of the Lock &
// Worktree Manager (spec.md §4.6): spawning a git worktree loop under
// .worktrees/<id>, the loops.json registry, and the merge queue FIFO.
// Grounded in _examples/steveyegge-vc/internal/sandbox/manager.go's
// Create/List/Cleanup shape and internal/storage's write-to-temp+rename
// registry idiom.
package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the LoopEntry status enum (spec.md §3), wire-compatible with
// any out-of-process reader of loops.json.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusStopped   Status = "Stopped"
	StatusCompleted Status = "Completed"
	StatusMerged    Status = "Merged"
	StatusDiscarded Status = "Discarded"
	StatusCrashed   Status = "Crashed"
)

// LoopEntry is one record in the loops.json registry.
type LoopEntry struct {
	ID          string    `json:"id"`
	Branch      string    `json:"branch"`
	Path        string    `json:"path"`
	PID         int       `json:"pid"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	PromptBrief string    `json:"prompt_brief"`
}

// Registry is the loops.json file under the primary repo root.
// Readers tolerate missing, malformed, or stale entries (spec.md §4.6).
type Registry struct {
	path string
}

func NewRegistry(repoRoot string) *Registry {
	return &Registry{path: filepath.Join(repoRoot, ".ralph", "loops.json")}
}

func (r *Registry) load() ([]LoopEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read loops.json: %w", err)
	}
	var entries []LoopEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Malformed registry: treat as empty rather than fail the caller
		// (spec.md §4.6: "readers tolerate... malformed... entries").
		return nil, nil
	}
	return entries, nil
}

func (r *Registry) save(entries []LoopEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal loops.json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("mkdir registry dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write loops.json temp: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("rename loops.json: %w", err)
	}
	return nil
}

// Register adds or replaces an entry by ID. Worktree loops register only
// after preflight succeeds, so crashed preflight runs leave no entry
// (spec.md §4.6).
func (r *Registry) Register(e LoopEntry) error {
	entries, err := r.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].ID == e.ID {
			entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, e)
	}
	return r.save(entries)
}

// UpdateStatus sets the status of an existing entry by ID. A missing ID
// is a no-op (tolerant per spec.md §4.6).
func (r *Registry) UpdateStatus(id string, status Status) error {
	entries, err := r.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == id {
			entries[i].Status = status
			return r.save(entries)
		}
	}
	return nil
}

// Deregister removes an entry by ID.
func (r *Registry) Deregister(id string) error {
	entries, err := r.load()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return r.save(out)
}

// List returns all registered entries.
func (r *Registry) List() ([]LoopEntry, error) {
	return r.load()
}

// RunningEntries returns only entries whose status is Running.
func (r *Registry) RunningEntries() ([]LoopEntry, error) {
	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	var running []LoopEntry
	for _, e := range entries {
		if e.Status == StatusRunning {
			running = append(running, e)
		}
	}
	return running, nil
}
