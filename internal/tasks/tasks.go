// Package tasks implements the Task Ledger (spec.md §4.9): a purely
// append-only JSONL file where status derives from the latest record
// per ID. Grounded in the JSONL-append idiom used across
// _examples/steveyegge-vc/internal/events for output records.
package tasks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Status is the task status vocabulary (spec.md §4.9: "open tasks are
// those whose latest status is open or blocked").
type Status string

const (
	StatusOpen    Status = "open"
	StatusBlocked Status = "blocked"
	StatusDone    Status = "done"
)

// Record is one append to the ledger.
type Record struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Title     string    `json:"title,omitempty"`
	Ts        time.Time `json:"ts"`
}

// Ledger is the append-only file at .ralph/agent/tasks.jsonl.
type Ledger struct {
	path string
}

func New(repoRoot string) *Ledger {
	return &Ledger{path: filepath.Join(repoRoot, ".ralph", "agent", "tasks.jsonl")}
}

func (l *Ledger) Path() string { return l.path }

// Add appends an `open` record for a freshly created task and returns
// its generated ID.
func (l *Ledger) Add(title string, now time.Time) (string, error) {
	id := fmt.Sprintf("task-%s", uuid.NewString()[:8])
	if err := l.append(Record{ID: id, Status: StatusOpen, Title: title, Ts: now}); err != nil {
		return "", err
	}
	return id, nil
}

// SetStatus appends a status-change record for an existing task ID.
func (l *Ledger) SetStatus(id string, status Status, now time.Time) error {
	return l.append(Record{ID: id, Status: status, Ts: now})
}

func (l *Ledger) append(r Record) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir task ledger dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open task ledger: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append task record: %w", err)
	}
	return nil
}

// LatestByID replays the ledger and returns the most recent record per
// ID, in first-seen order.
func (l *Ledger) LatestByID() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open task ledger: %w", err)
	}
	defer f.Close()

	latest := make(map[string]Record)
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping corrupt task record: %v\n", err)
			continue
		}
		if _, seen := latest[r.ID]; !seen {
			order = append(order, r.ID)
		}
		latest[r.ID] = r
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan task ledger: %w", err)
	}

	out := make([]Record, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}

// Open returns only tasks whose latest status is open or blocked
// (spec.md §4.9, §4.10: "Completion detector requires open count of
// zero").
func (l *Ledger) Open() ([]Record, error) {
	all, err := l.LatestByID()
	if err != nil {
		return nil, err
	}
	var open []Record
	for _, r := range all {
		if r.Status == StatusOpen || r.Status == StatusBlocked {
			open = append(open, r)
		}
	}
	return open, nil
}
