// Package journal implements the append-only JSONL event journal that is
// the single source of truth for inter-loop and inter-component
// communication (spec.md §4.1).
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ralph-run/ralph/internal/ralphapi"
)

// maxRecordBytes is the design target above which a single record is no
// longer guaranteed atomic under concurrent O_APPEND writers (spec.md
// §4.1: "≤ 4 KiB per record is the design target").
const maxRecordBytes = 4096

// Event is the atomic unit of communication (spec.md §3).
type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Ts        time.Time       `json:"ts"`
	Iteration *int            `json:"iteration,omitempty"`

	// extra preserves unknown sibling keys so readers round-trip records
	// they don't fully understand (spec.md §6: "Unknown keys must be
	// preserved by readers").
	extra map[string]json.RawMessage `json:"-"`
}

// NewEvent constructs an Event with the payload marshaled from v (which
// may be a string or any JSON-marshalable structured value).
func NewEvent(topic string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload for topic %q: %w", topic, err)
	}
	return Event{Topic: topic, Payload: raw, Ts: time.Now().UTC()}, nil
}

// MarshalJSON implements json.Marshaler, re-injecting unknown keys
// captured at decode time.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(e.extra)+4)
	for k, v := range e.extra {
		m[k] = v
	}
	topic, err := json.Marshal(e.Topic)
	if err != nil {
		return nil, err
	}
	m["topic"] = topic
	if e.Payload != nil {
		m["payload"] = e.Payload
	} else {
		m["payload"] = json.RawMessage("null")
	}
	ts, err := json.Marshal(e.Ts)
	if err != nil {
		return nil, err
	}
	m["ts"] = ts
	if e.Iteration != nil {
		it, err := json.Marshal(*e.Iteration)
		if err != nil {
			return nil, err
		}
		m["iteration"] = it
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler, capturing unknown keys.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["topic"]; ok {
		if err := json.Unmarshal(raw, &e.Topic); err != nil {
			return fmt.Errorf("topic: %w", err)
		}
		delete(m, "topic")
	}
	if raw, ok := m["payload"]; ok {
		e.Payload = raw
		delete(m, "payload")
	}
	if raw, ok := m["ts"]; ok {
		if err := json.Unmarshal(raw, &e.Ts); err != nil {
			return fmt.Errorf("ts: %w", err)
		}
		delete(m, "ts")
	}
	if raw, ok := m["iteration"]; ok {
		var it int
		if err := json.Unmarshal(raw, &it); err != nil {
			return fmt.Errorf("iteration: %w", err)
		}
		e.Iteration = &it
		delete(m, "iteration")
	}
	e.extra = m
	return nil
}

// Journal is an append-only JSONL file plus a mutex guarding the local
// process's own appends. Cross-process atomicity relies on O_APPEND
// (spec.md §4.1) on platforms that guarantee it; the mutex here only
// serializes writers within this process.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens (creating if absent) the journal file at path for appending
// only; reads open their own handle on the same path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %v", ralphapi.ErrJournalIO, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ralphapi.ErrJournalIO, err)
	}
	return &Journal{path: path, f: f}, nil
}

// Path returns the path this journal was opened with, as given to Open.
func (j *Journal) Path() string { return j.path }

// Append writes one record, failing with ErrJournalIO. The producer is
// responsible for keeping single records under the atomic-write
// threshold; Append rejects oversize records rather than risk interleaving.
func (j *Journal) Append(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ralphapi.ErrJournalIO, err)
	}
	if len(data) > maxRecordBytes {
		return fmt.Errorf("%w: record of %d bytes exceeds atomic-write threshold of %d", ralphapi.ErrJournalIO, len(data), maxRecordBytes)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("%w: write: %v", ralphapi.ErrJournalIO, err)
	}
	return nil
}

// ReadFrom reads all events starting at byte offset, returning the events
// and the new offset to resume from. Malformed lines are skipped with a
// warning but still counted toward the offset (spec.md §4.1).
func (j *Journal) ReadFrom(offset int64) ([]Event, int64, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, offset, fmt.Errorf("%w: open for read: %v", ralphapi.ErrJournalIO, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, os.SEEK_SET); err != nil {
		return nil, offset, fmt.Errorf("%w: seek: %v", ralphapi.ErrJournalIO, err)
	}

	var events []Event
	newOffset := offset
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		newOffset += int64(len(line)) + 1 // + newline
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping corrupt journal record at offset %d: %v\n", newOffset, err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, newOffset, fmt.Errorf("%w: scan: %v", ralphapi.ErrJournalIO, err)
	}
	return events, newOffset, nil
}

// ReadAll reads every event from the start of the journal.
func (j *Journal) ReadAll() ([]Event, error) {
	events, _, err := j.ReadFrom(0)
	return events, err
}

// Clear moves the current journal aside and starts a fresh empty file in
// its place. Used only by explicit admin action (spec.md §4.1).
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.f.Close(); err != nil {
		return fmt.Errorf("%w: close before clear: %v", ralphapi.ErrJournalIO, err)
	}
	backup := j.path + "." + time.Now().UTC().Format("20060102T150405Z") + ".bak"
	if err := os.Rename(j.path, backup); err != nil {
		return fmt.Errorf("%w: rename aside: %v", ralphapi.ErrJournalIO, err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: reopen: %v", ralphapi.ErrJournalIO, err)
	}
	j.f = f
	return nil
}

// Close closes the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// WriteCurrentEventsMarker writes the well-known marker file pointing at
// this journal's absolute path, so out-of-process writers (emit CLI,
// chat ingress) target the same stream (spec.md §4.1, §6).
func WriteCurrentEventsMarker(repoRoot, journalPath string) error {
	abs, err := filepath.Abs(journalPath)
	if err != nil {
		return fmt.Errorf("%w: abs: %v", ralphapi.ErrJournalIO, err)
	}
	markerPath := filepath.Join(repoRoot, ".ralph", "current-events")
	if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ralphapi.ErrJournalIO, err)
	}
	tmp := markerPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(abs), 0o644); err != nil {
		return fmt.Errorf("%w: write marker: %v", ralphapi.ErrJournalIO, err)
	}
	return os.Rename(tmp, markerPath)
}

// ReadCurrentEventsMarker reads the absolute journal path recorded by
// WriteCurrentEventsMarker.
func ReadCurrentEventsMarker(repoRoot string) (string, error) {
	markerPath := filepath.Join(repoRoot, ".ralph", "current-events")
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return "", fmt.Errorf("%w: read marker: %v", ralphapi.ErrJournalIO, err)
	}
	return string(data), nil
}

// NewJournalPath produces a fresh `.ralph/events-<ts>.jsonl` path under
// repoRoot (spec.md §6).
func NewJournalPath(repoRoot string) string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join(repoRoot, ".ralph", fmt.Sprintf("events-%s.jsonl", ts))
}
